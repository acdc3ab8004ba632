package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/grandline/identity/internal/dbx"
	"github.com/grandline/identity/internal/server/migrations"
	"github.com/grandline/identity/internal/server/repositories/accounts"
	"github.com/grandline/identity/internal/server/repositories/codes"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories and exposes
// a schema migration hook.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// Accounts returns an accounts.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewPostgresRepository(db)
}

// Codes returns a codes.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Codes(db dbx.DBTX) codes.Repository {
	return codes.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and applies them
// against the provided connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}
