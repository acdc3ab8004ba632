// Package common contains shared sentinel errors, the service-boundary error
// taxonomy, and small random-string helpers used across the identity service.
// Callers should use errors.Is / errors.As to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Auth errors (invalid or malformed token).
	ErrorInvalidToken = errors.New("invalid token")
	ErrorTokenExpired = errors.New("token expired")
)

// Kind classifies a failure crossing the identity-service boundary. The HTTP
// layer maps each kind to a status code; the service never hands raw
// storage or transport error text to its caller.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindConflict
	KindUnauthorized
	KindNotFound
	KindDeliveryFailure
)

// Error is a typed business failure: a kind plus a user-safe message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// E constructs a typed boundary error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf extracts the Kind from err. Anything that is not a *Error is an
// unexpected fault and classifies as KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
