package domain

import "teamera_server/pkg/apperr"

// MsgCheckEmail is returned with a signup that still needs email confirmation.
const MsgCheckEmail = "Please check your email to confirm your account."

// Result is what every session manager operation returns.
// Failures carry only a human-readable message in Error.
type Result struct {
	Success                   bool     `json:"success"`
	Error                     string   `json:"error,omitempty"`
	User                      *Profile `json:"user,omitempty"`
	RequiresEmailConfirmation bool     `json:"requiresEmailConfirmation,omitempty"`
	Message                   string   `json:"message,omitempty"`
	RedirectURL               string   `json:"redirectUrl,omitempty"`
}

// OK is a bare success.
func OK() Result {
	return Result{Success: true}
}

// OKWithUser is a success carrying the resulting profile.
func OKWithUser(p *Profile) Result {
	return Result{Success: true, User: p}
}

// Failed converts err into a failed result.
func Failed(err error) Result {
	msg := apperr.Message(err)
	if msg == "" {
		msg = "unknown error"
	}
	return Result{Success: false, Error: msg}
}

// FailedMsg is a failed result with a fixed message.
func FailedMsg(msg string) Result {
	return Result{Success: false, Error: msg}
}
