package content

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/whisper/support-chat/internal/model"
)

var (
	pseudonymPattern = regexp.MustCompile(`^[\p{L}\p{N}_.-]{3,24}$`)

	// phonePattern accepts an optional leading "+" and 7 to 15 digits with
	// optional space, dot or dash separators, e.g. "+33 6 12 34 56 78".
	phonePattern = regexp.MustCompile(`^\+?\d(?:[ .-]?\d){6,14}$`)

	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
)

// ValidatePseudonym checks the public display name of an actor.
func ValidatePseudonym(s string) error {
	if !pseudonymPattern.MatchString(s) {
		return fmt.Errorf("%w: pseudonym must be 3-24 letters, digits, '_', '-' or '.'", model.ErrInvalidContent)
	}
	return nil
}

// ValidateAvatar checks the avatar glyph: a short, markup-free string such
// as a single emoji.
func ValidateAvatar(s string) error {
	n := utf8.RuneCountInString(s)
	if n == 0 || n > 8 || Sanitize(s) != s {
		return fmt.Errorf("%w: avatar must be 1-8 characters without markup", model.ErrInvalidContent)
	}
	return nil
}

// ValidatePhone checks a phone number.
func ValidatePhone(s string) error {
	if !phonePattern.MatchString(strings.TrimSpace(s)) {
		return fmt.Errorf("%w: invalid phone number", model.ErrInvalidContent)
	}
	return nil
}

// ValidateEmail checks an email address.
func ValidateEmail(s string) error {
	if len(s) > 254 || !emailPattern.MatchString(strings.TrimSpace(s)) {
		return fmt.Errorf("%w: invalid email address", model.ErrInvalidContent)
	}
	return nil
}

// ValidateEmergencyContact accepts either a phone number or an email
// address. An empty contact is allowed.
func ValidateEmergencyContact(s string) error {
	if s == "" {
		return nil
	}
	if ValidatePhone(s) == nil || ValidateEmail(s) == nil {
		return nil
	}
	return fmt.Errorf("%w: emergency contact must be a phone number or email", model.ErrInvalidContent)
}
