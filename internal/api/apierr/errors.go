// Package apierr maps domain errors to HTTP responses with the
// {"error": "..."} envelope.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/whisper/support-chat/internal/model"
)

// ErrorResponse is the body of every failed request. RetryAfter is set on
// 429 responses only.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Error codes
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidContent    = "INVALID_CONTENT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRevoked           = "CREDENTIAL_REVOKED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeDuplicateReaction = "DUPLICATE_REACTION"
	CodeDuplicateReport   = "ALREADY_REPORTED"
	CodeDuplicateActor    = "PSEUDONYM_TAKEN"
	CodeSelfReport        = "SELF_REPORT"
	CodeSelfBan           = "SELF_BAN"
	CodeRateLimited       = "RATE_LIMITED"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternalError     = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with a response body.
type httpError struct {
	status int
	body   ErrorResponse
}

func (e *httpError) Error() string {
	return e.body.Error
}

// WriteError writes the response for err.
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	if he.status == http.StatusTooManyRequests && he.body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(he.body.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(he.body)
}

// Status returns the HTTP status WriteError would use for err.
func Status(err error) int {
	return toHTTPError(err).status
}

func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	// Rate limiting wins over whatever failure it was joined with.
	var rl *model.RateLimitError
	if errors.As(err, &rl) {
		return &httpError{http.StatusTooManyRequests, ErrorResponse{
			Error:      "Too many requests, slow down",
			Code:       CodeRateLimited,
			RetryAfter: rl.RetryAfterSeconds(),
		}}
	}

	switch {
	case errors.Is(err, model.ErrRateLimited):
		return &httpError{http.StatusTooManyRequests, ErrorResponse{Error: "Too many requests, slow down", Code: CodeRateLimited, RetryAfter: 1}}
	case errors.Is(err, model.ErrForbidden):
		return &httpError{http.StatusForbidden, ErrorResponse{Error: "You are not allowed to do this", Code: CodeForbidden}}
	case errors.Is(err, model.ErrRevokedCredential):
		return &httpError{http.StatusUnauthorized, ErrorResponse{Error: "Session has been revoked, please sign in again", Code: CodeRevoked}}
	case errors.Is(err, model.ErrUnauthenticated):
		return &httpError{http.StatusUnauthorized, ErrorResponse{Error: "Authentication required", Code: CodeUnauthorized}}
	case errors.Is(err, model.ErrInvalidContent):
		return &httpError{http.StatusUnprocessableEntity, ErrorResponse{Error: "Content is empty, too long or not allowed", Code: CodeInvalidContent}}
	case errors.Is(err, model.ErrSelfReport):
		return &httpError{http.StatusForbidden, ErrorResponse{Error: "You cannot report your own message", Code: CodeSelfReport}}
	case errors.Is(err, model.ErrSelfBan):
		return &httpError{http.StatusForbidden, ErrorResponse{Error: "You cannot ban yourself", Code: CodeSelfBan}}
	case errors.Is(err, model.ErrInvalidStatus):
		return &httpError{http.StatusBadRequest, ErrorResponse{Error: "Status must be resolved or rejected", Code: CodeInvalidRequest}}
	case errors.Is(err, model.ErrActorNotFound):
		return &httpError{http.StatusNotFound, ErrorResponse{Error: "User not found", Code: CodeNotFound}}
	case errors.Is(err, model.ErrMessageNotFound):
		return &httpError{http.StatusNotFound, ErrorResponse{Error: "Message not found", Code: CodeNotFound}}
	case errors.Is(err, model.ErrReportNotFound):
		return &httpError{http.StatusNotFound, ErrorResponse{Error: "Report not found", Code: CodeNotFound}}
	case errors.Is(err, model.ErrNotFound):
		return &httpError{http.StatusNotFound, ErrorResponse{Error: "Not found", Code: CodeNotFound}}
	case errors.Is(err, model.ErrDuplicateReport):
		return &httpError{http.StatusConflict, ErrorResponse{Error: "You already reported this message", Code: CodeDuplicateReport}}
	case errors.Is(err, model.ErrDuplicateReaction):
		return &httpError{http.StatusConflict, ErrorResponse{Error: "Reaction changed concurrently, try again", Code: CodeDuplicateReaction}}
	case errors.Is(err, model.ErrDuplicateActor):
		return &httpError{http.StatusConflict, ErrorResponse{Error: "Pseudonym already taken", Code: CodeDuplicateActor}}
	default:
		return &httpError{http.StatusInternalServerError, ErrorResponse{Error: "Something went wrong, please retry", Code: CodeInternalError}}
	}
}

// NewInvalidRequestError creates a 400 error with the given message.
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, ErrorResponse{Error: message, Code: CodeInvalidRequest}}
}

// NewMethodNotAllowedError creates a 405 error for a known path.
func NewMethodNotAllowedError() error {
	return &httpError{http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed", Code: CodeMethodNotAllowed}}
}

// NewUnavailableError creates a 503 error with the given message.
func NewUnavailableError(message string) error {
	return &httpError{http.StatusServiceUnavailable, ErrorResponse{Error: message, Code: CodeUnavailable}}
}

// NewInternalError creates the generic 500 error.
func NewInternalError() error {
	return toHTTPError(nil)
}
