// Package validate checks and cleans user-submitted fields.
package validate

import (
	"regexp"
	"strings"
)

const (
	MsgNameRequired  = "Name is required"
	MsgEmailRequired = "Email is required"
	MsgEmailInvalid  = "Invalid email format"
)

var (
	emailRegex  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	scriptRegex = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
)

// Result is the outcome of a validation. Errors is never nil.
type Result struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// ValidateUser checks the name/email pair used by signup and profile edits.
// Whitespace-only values count as missing.
func ValidateUser(name, email string) Result {
	errs := make([]string, 0, 2)

	if strings.TrimSpace(name) == "" {
		errs = append(errs, MsgNameRequired)
	}

	if strings.TrimSpace(email) == "" {
		errs = append(errs, MsgEmailRequired)
	} else if !IsValidEmail(email) {
		errs = append(errs, MsgEmailInvalid)
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

// IsValidEmail reports whether email looks like local@domain.tld.
func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// SanitizeInput trims s and removes <script> blocks.
func SanitizeInput(s string) string {
	return scriptRegex.ReplaceAllString(strings.TrimSpace(s), "")
}

// SanitizeOptional applies SanitizeInput to a non-nil pointer.
func SanitizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := SanitizeInput(*s)
	return &v
}
