// Package accounts persists Account records. The login identifier carries a
// uniqueness constraint in storage; a violating insert surfaces as
// common.ErrorAlreadyExists so the service can treat the race between
// pre-check and insert as an ordinary conflict.
package accounts

import (
	"context"

	"github.com/grandline/identity/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByLoginID(ctx context.Context, loginID string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	UpdateStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string) (*models.Account, error)
}
