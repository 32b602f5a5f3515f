package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"teamera_server/pkg/apperr"
	"teamera_server/pkg/validate"
)

// User is the API-side member record created from a name/email pair.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserInput is the accepted body for creating or updating a User.
type UserInput struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ValidateUser validates a name/email pair.
func ValidateUser(in UserInput) validate.Result {
	return validate.ValidateUser(in.Name, in.Email)
}

// NewUser validates in and builds a User, generating an id when none is given.
func NewUser(in UserInput) (*User, error) {
	res := ValidateUser(in)
	if !res.IsValid {
		return nil, apperr.ValidationFailed(strings.Join(res.Errors, ", "), res.Errors)
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &User{
		ID:        id,
		Name:      validate.SanitizeInput(in.Name),
		Email:     strings.TrimSpace(in.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Update applies non-empty fields and bumps UpdatedAt.
func (u *User) Update(in UserInput) *User {
	if in.Name != "" {
		u.Name = validate.SanitizeInput(in.Name)
	}
	if in.Email != "" {
		u.Email = strings.TrimSpace(in.Email)
	}
	u.UpdatedAt = time.Now().UTC()
	return u
}
