package supabase

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// PostgREST codes with special meaning.
const (
	CodeNoRows          = "PGRST116" // object requested, zero (or many) rows
	CodeNoContent       = "PGRST204" // column/content missing on count-only reads
	CodeUniqueViolation = "23505"
)

// Error is a failed backend response.
type Error struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// parseError decodes a GoTrue or PostgREST error body. GoTrue uses
// error/error_description (older) or msg/error_code (newer); PostgREST uses
// code/message/details/hint. Code may be a string or a number.
func parseError(body []byte, status int) error {
	var raw struct {
		Code             json.RawMessage `json:"code"`
		ErrorCode        string          `json:"error_code"`
		Message          string          `json:"message"`
		Msg              string          `json:"msg"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
		Details          *string         `json:"details"`
		Hint             *string         `json:"hint"`
	}

	if err := json.Unmarshal(body, &raw); err != nil {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &Error{Status: status, Message: msg}
	}

	e := &Error{
		Status:  status,
		Code:    firstNonEmpty(raw.ErrorCode, strings.Trim(string(raw.Code), `"`), raw.Error),
		Message: firstNonEmpty(raw.Message, raw.Msg, raw.ErrorDescription, raw.Error, http.StatusText(status)),
	}
	if raw.Details != nil {
		e.Details = *raw.Details
	}
	if raw.Hint != nil {
		e.Hint = *raw.Hint
	}
	if e.Code == "null" {
		e.Code = ""
	}
	return e
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsCode reports whether err is a backend error with code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsStatus reports whether err is a backend error with the HTTP status.
func IsStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}
