// Package repomanager vends repository implementations bound to a DBTX and
// owns schema migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/grandline/identity/internal/dbx"
	"github.com/grandline/identity/internal/server/repositories/accounts"
	"github.com/grandline/identity/internal/server/repositories/codes"
)

// RepositoryManager hands out repositories bound to the given handle, which
// may be a *sql.DB or a transaction from dbx.WithTx.
type RepositoryManager interface {
	Accounts(db dbx.DBTX) accounts.Repository
	Codes(db dbx.DBTX) codes.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
