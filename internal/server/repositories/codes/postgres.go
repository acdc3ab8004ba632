package codes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grandline/identity/internal/common"
	"github.com/grandline/identity/internal/dbx"
	"github.com/grandline/identity/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const codeColumns = `id, account_id, email, code, expires_at, created_at`

func scanCode(row *sql.Row) (*models.VerificationCode, error) {
	c := &models.VerificationCode{}
	err := row.Scan(&c.ID, &c.AccountID, &c.Email, &c.Code, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, accountID, email, code string, expiresAt time.Time) (*models.VerificationCode, error) {
	if accountID == "" {
		return nil, ErrMissingAccountID
	}

	query :=
		`INSERT INTO verification_codes (account_id, email, code, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING ` + codeColumns + `
		 `

	return scanCode(r.db.QueryRowContext(ctx, query, accountID, email, code, expiresAt))
}

func (r *PostgresRepository) FindByCode(ctx context.Context, email, code string) (*models.VerificationCode, error) {
	query :=
		`SELECT ` + codeColumns + ` FROM verification_codes
		 WHERE email = $1 AND code = $2 AND expires_at > now()
		 ORDER BY created_at DESC
		 LIMIT 1
		 `

	return scanCode(r.db.QueryRowContext(ctx, query, email, code))
}

func (r *PostgresRepository) FindByAccountID(ctx context.Context, accountID string) (*models.VerificationCode, error) {
	query :=
		`SELECT ` + codeColumns + ` FROM verification_codes
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1
		 `

	return scanCode(r.db.QueryRowContext(ctx, query, accountID))
}

// Replace swaps the code value and expiry in place, but only when the stored
// row has already expired. Concurrent resends race on the expires_at guard;
// the loser sees common.ErrorNotFound.
func (r *PostgresRepository) Replace(ctx context.Context, accountID, code string, expiresAt time.Time) (*models.VerificationCode, error) {
	query :=
		`UPDATE verification_codes SET code = $2, expires_at = $3
		 WHERE account_id = $1 AND expires_at <= now()
		 RETURNING ` + codeColumns + `
		 `

	return scanCode(r.db.QueryRowContext(ctx, query, accountID, code, expiresAt))
}
