package model

import "time"

type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
)

// Identity is the credential-store record behind an authenticated subject.
// ResetSecretHash and ResetExpiresAt are either both set or both nil.
type Identity struct {
	ID              string        `json:"id"`
	Email           string        `json:"email"`
	Name            string        `json:"name"`
	PasswordHash    string        `json:"-"`
	Role            Role          `json:"role"`
	Status          AccountStatus `json:"status"`
	ResetSecretHash *string       `json:"-"`
	ResetExpiresAt  *time.Time    `json:"-"`
	TokenGeneration int64         `json:"-"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (i Identity) IsActive() bool {
	return i.Status == StatusActive
}

// HasPendingReset reports whether a reset secret is stored and still live at now.
func (i Identity) HasPendingReset(now time.Time) bool {
	if i.ResetSecretHash == nil || i.ResetExpiresAt == nil {
		return false
	}
	return now.Before(*i.ResetExpiresAt)
}

func (i Identity) Public() AuthUser {
	return AuthUser{ID: i.ID, Email: i.Email, Name: i.Name, Role: i.Role}
}

type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}
