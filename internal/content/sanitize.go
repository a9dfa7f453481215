// Package content normalizes and validates user-supplied text before it is
// persisted or broadcast: chat messages, report reasons and profile
// identifiers.
package content

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/whisper/support-chat/internal/model"
)

const (
	MaxMessageRunes = 500       // max characters in a sanitized chat message
	MaxReasonRunes  = 500       // report reasons are truncated to this length
	MaxRawBytes     = 16 * 1024 // raw input above this is rejected before parsing
)

var (
	// tagPattern matches a single innermost markup tag. Applied until a
	// fixed point so split constructs like "<scr<script>ipt>" are removed.
	tagPattern = regexp.MustCompile(`<[^<>]*>`)

	// wsRunPattern matches runs of three or more whitespace characters.
	wsRunPattern = regexp.MustCompile(`[ \t\n]{3,}`)
)

// Sanitize strips markup, drops control characters other than newline and
// tab, trims, and collapses whitespace runs of three or more to two.
// Sanitize(Sanitize(x)) == Sanitize(x) for every x.
func Sanitize(raw string) string {
	s := strings.ToValidUTF8(raw, "")
	for {
		stripped := tagPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	s = strings.TrimSpace(s)
	s = wsRunPattern.ReplaceAllStringFunc(s, func(run string) string {
		if strings.ContainsRune(run, '\n') {
			return "\n\n"
		}
		return "  "
	})
	return s
}

// SanitizeMessage sanitizes a chat message and rejects it when the result
// is empty or longer than MaxMessageRunes.
func SanitizeMessage(raw string) (string, error) {
	if len(raw) > MaxRawBytes {
		return "", fmt.Errorf("%w: message exceeds %d byte limit", model.ErrInvalidContent, MaxRawBytes)
	}
	if !utf8.ValidString(raw) {
		return "", fmt.Errorf("%w: message contains invalid UTF-8", model.ErrInvalidContent)
	}

	s := Sanitize(raw)
	if s == "" {
		return "", fmt.Errorf("%w: message is empty", model.ErrInvalidContent)
	}
	if utf8.RuneCountInString(s) > MaxMessageRunes {
		return "", fmt.Errorf("%w: message exceeds %d character limit", model.ErrInvalidContent, MaxMessageRunes)
	}
	return s, nil
}

// SanitizeReason sanitizes an optional report reason. Empty input is
// allowed; over-long input is truncated rather than rejected.
func SanitizeReason(raw string) string {
	if len(raw) > MaxRawBytes {
		raw = raw[:MaxRawBytes]
	}
	s := Sanitize(raw)
	if utf8.RuneCountInString(s) <= MaxReasonRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:MaxReasonRunes]))
}
