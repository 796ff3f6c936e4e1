package auth

import "time"

// User represents an authenticated user account. Identity fields are set at
// signup and never updated afterwards. The national identifier is stored as
// its last four digits only; the full value is discarded at the intake
// boundary and has no field here.
type User struct {
	ID              int64
	Email           string
	PasswordHash    string
	FullName        string
	DateOfBirth     time.Time
	NationalIDLast4 string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Session represents one authenticated browser context. For every user at
// most one non-expired row exists; establishing a new session replaces any
// prior rows in the same transaction.
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its absolute lifetime.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
