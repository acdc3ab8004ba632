// Package httpapi binds the identity service to a JSON-over-HTTP surface.
// Routing is a static table of (verb, path, handler) triples registered at
// startup; the package does no business logic beyond decoding requests and
// mapping error kinds to status codes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/grandline/identity/internal/logging"
	"github.com/grandline/identity/internal/server/services"
)

// Identity is the slice of the identity service the HTTP layer consumes.
type Identity interface {
	Register(ctx context.Context, firstName, lastName, loginID, password string) (*services.Receipt, error)
	Authenticate(ctx context.Context, loginID, password string) (string, error)
	RequestPasswordReset(ctx context.Context, loginID string) (*services.Receipt, error)
	ConfirmCode(ctx context.Context, loginID, code string) error
	ResendCode(ctx context.Context, loginID string) (*services.Receipt, error)
}

type Server struct {
	address  string
	identity Identity
	logger   logging.Logger
}

func NewServer(address string, identity Identity, l logging.Logger) *Server {
	return &Server{
		address:  address,
		identity: identity,
		logger:   l.With("module", "http_server"),
	}
}

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{http.MethodPost, "/signup", s.handleSignup},
		{http.MethodPost, "/signin", s.handleSignin},
		{http.MethodPost, "/password-reset", s.handlePasswordReset},
		{http.MethodPost, "/confirm-code", s.handleConfirmCode},
		{http.MethodPost, "/resend-code", s.handleResendCode},
	}
}

// Handler builds the request multiplexer from the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, r := range s.routes() {
		mux.HandleFunc(r.method+" "+r.path, r.handler)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
