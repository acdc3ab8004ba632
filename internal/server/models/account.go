// Package models holds the persistent domain types of the identity service.
package models

import "time"

// AccountStatus is the coarse lifecycle stage of an account. Only
// StatusUnconfirmed blocks authentication; there is no transition back to it.
type AccountStatus string

const (
	StatusUnconfirmed           AccountStatus = "UNCONFIRMED"
	StatusConfirmed             AccountStatus = "CONFIRMED"
	StatusPasswordResetRequired AccountStatus = "PASSWORD_RESET_REQUIRED"
)

// Account is a registered identity. LoginID is the unique email-shaped
// identifier the user authenticates with. PasswordHash always holds a bcrypt
// digest, never plaintext.
type Account struct {
	ID           string
	LoginID      string
	FirstName    string
	LastName     string
	PasswordHash string
	Status       AccountStatus
	CreatedAt    time.Time
}
