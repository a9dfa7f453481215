// Package handler implements the JSON API endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/whisper/support-chat/internal/api/apierr"
	"github.com/whisper/support-chat/internal/content"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = content.MaxRawBytes + 1024

// decode parses a JSON body into v. An empty body is accepted when
// optional is set.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case optional && errors.Is(err, io.EOF):
		return nil
	default:
		return apierr.NewInvalidRequestError("invalid request body")
	}
}

// pathID returns the {id} route variable when it is a well-formed id.
func pathID(r *http.Request) (string, error) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		return "", apierr.NewInvalidRequestError("invalid id")
	}
	return id, nil
}
