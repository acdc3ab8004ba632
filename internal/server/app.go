// Package server wires the identity application together: configuration,
// database and migrations, the identity service and its collaborators, the
// HTTP surface, and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/grandline/identity/internal/logging"
	"github.com/grandline/identity/internal/server/config"
	"github.com/grandline/identity/internal/server/httpapi"
	"github.com/grandline/identity/internal/server/notification"
	"github.com/grandline/identity/internal/server/password"
	"github.com/grandline/identity/internal/server/repositories/repomanager"
	"github.com/grandline/identity/internal/server/services"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	httpServer *httpapi.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// A missing signing secret is a startup fault, not a per-request error.
	if cfg.SecretKey == "" {
		return nil, errors.New("signing secret key is not configured")
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	hasher := password.NewHasher(cfg.PasswordHashCost)
	notifier := notification.NewSMTPNotifier(cfg, logger)
	identity := services.NewIdentityService(db, rm, hasher, notifier, logger, cfg)

	httpServer := httpapi.NewServer(cfg.EndpointAddr, identity, logger)

	return &App{config: cfg, logger: logger, db: db, httpServer: httpServer}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing db", "error", err)
	}
}
