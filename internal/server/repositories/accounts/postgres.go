package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/grandline/identity/internal/common"
	"github.com/grandline/identity/internal/dbx"
	"github.com/grandline/identity/internal/server/models"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, login_id, first_name, last_name, password_hash, status, created_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.LoginID, &a.FirstName, &a.LastName, &a.PasswordHash, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO accounts (login_id, first_name, last_name, password_hash, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.LoginID, account.FirstName, account.LastName, account.PasswordHash, account.Status).
		Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) GetByLoginID(ctx context.Context, loginID string) (*models.Account, error) {
	query :=
		`SELECT ` + accountColumns + ` FROM accounts
		 WHERE login_id = $1
		 `

	return scanAccount(r.db.QueryRowContext(ctx, query, loginID))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query :=
		`SELECT ` + accountColumns + ` FROM accounts
		 WHERE id = $1
		 `

	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error) {
	query :=
		`UPDATE accounts SET status = $2
		 WHERE id = $1
		 RETURNING ` + accountColumns + `
		 `

	return scanAccount(r.db.QueryRowContext(ctx, query, id, status))
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id string, passwordHash string) (*models.Account, error) {
	query :=
		`UPDATE accounts SET password_hash = $2
		 WHERE id = $1
		 RETURNING ` + accountColumns + `
		 `

	return scanAccount(r.db.QueryRowContext(ctx, query, id, passwordHash))
}
