package models

import "time"

// VerificationCode is a short-lived one-time code proving control of the
// login identifier's inbox. An account conceptually owns at most one live
// code; the identity service enforces that, not the storage layer.
type VerificationCode struct {
	ID        int64
	AccountID string
	Email     string
	Code      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the code is past its expiry at the given instant.
// An expired code is treated as absent for confirmation but is still
// replaceable by a resend.
func (c *VerificationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
