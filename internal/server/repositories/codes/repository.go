// Package codes persists one-time verification codes. FindByCode only
// matches rows that have not expired; FindByAccountID returns the latest row
// regardless of expiry, because resend must tell an expired-but-present code
// apart from no code at all.
package codes

import (
	"context"
	"errors"
	"time"

	"github.com/grandline/identity/internal/server/models"
)

// ErrMissingAccountID is returned when Create is called without an owning
// account identifier. This is a caller bug, not a storage fault.
var ErrMissingAccountID = errors.New("verification code requires an owning account id")

type Repository interface {
	Create(ctx context.Context, accountID, email, code string, expiresAt time.Time) (*models.VerificationCode, error)
	FindByCode(ctx context.Context, email, code string) (*models.VerificationCode, error)
	FindByAccountID(ctx context.Context, accountID string) (*models.VerificationCode, error)
	Replace(ctx context.Context, accountID, code string, expiresAt time.Time) (*models.VerificationCode, error)
}
