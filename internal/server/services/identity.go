// Package services contains the server-side business logic. This file
// implements IdentityService, which orchestrates account registration,
// authentication, email-ownership confirmation via one-time codes, and
// password-reset handling by composing the stores, the credential hasher,
// the token issuer, and the notification dispatcher.
package services

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/grandline/identity/internal/common"
	"github.com/grandline/identity/internal/dbx"
	"github.com/grandline/identity/internal/logging"
	"github.com/grandline/identity/internal/server/auth"
	"github.com/grandline/identity/internal/server/config"
	"github.com/grandline/identity/internal/server/models"
	"github.com/grandline/identity/internal/server/notification"
	"github.com/grandline/identity/internal/server/password"
	"github.com/grandline/identity/internal/server/repositories/repomanager"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,4}$`)
	namePattern  = regexp.MustCompile(`^[A-Za-zÀ-ÖØ-öø-ÿ' -]+$`)
)

const minPasswordLength = 8

// Length of the generated temporary password on reset. Independent from the
// verification-code length, which is configurable.
const tempPasswordLength = 12

// Receipt reports a dispatched notification back to the caller.
type Receipt struct {
	MessageID string
}

// IdentityService drives the account lifecycle state machine. All state
// transitions go through here; the stores never mutate status on their own.
type IdentityService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	hasher        *password.Hasher
	notifier      notification.Notifier
	logger        logging.Logger
	jwtSecret     []byte
	tokenValidity time.Duration
	codeLength    int
	codeTTL       time.Duration
	now           func() time.Time
}

// NewIdentityService constructs an IdentityService from repositories,
// collaborators, and server config.
func NewIdentityService(db *sql.DB, m repomanager.RepositoryManager, h *password.Hasher,
	n notification.Notifier, l logging.Logger, cfg *config.Config) *IdentityService {
	return &IdentityService{
		db:            db,
		repomanager:   m,
		hasher:        h,
		notifier:      n,
		logger:        l.With("module", "identity_service"),
		jwtSecret:     []byte(cfg.SecretKey),
		tokenValidity: cfg.TokenValidityDuration,
		codeLength:    cfg.CodeLength,
		codeTTL:       cfg.CodeTTL,
		now:           time.Now,
	}
}

// Register creates an UNCONFIRMED account, issues a one-time verification
// code, and dispatches it to the login identifier's inbox. The account row
// commits before dispatch; when dispatch fails the row stays UNCONFIRMED and
// ResendCode is the recovery path.
func (s *IdentityService) Register(ctx context.Context, firstName, lastName, loginID, plainPassword string) (*Receipt, error) {
	if firstName == "" || lastName == "" || loginID == "" || plainPassword == "" {
		return nil, common.E(common.KindInvalidInput, "all fields are required")
	}
	if len(strings.TrimSpace(plainPassword)) < minPasswordLength {
		return nil, common.E(common.KindInvalidInput, "the password must be at least 8 characters long")
	}
	if !emailPattern.MatchString(loginID) {
		return nil, common.E(common.KindInvalidInput, "invalid login id")
	}
	for _, name := range []string{firstName, lastName} {
		if !namePattern.MatchString(strings.TrimSpace(name)) {
			return nil, common.E(common.KindInvalidInput, "invalid name")
		}
	}

	accountRepo := s.repomanager.Accounts(s.db)

	// Pre-check keeps the common case cheap; the unique constraint in
	// storage is the authoritative guard against the races two concurrent
	// registrations can win simultaneously.
	_, err := accountRepo.GetByLoginID(ctx, loginID)
	if err == nil {
		return nil, common.E(common.KindConflict, "login id already exists")
	}
	if !errors.Is(err, common.ErrorNotFound) {
		s.logger.Error(ctx, "registration lookup failed", "error", err)
		return nil, err
	}

	hash, err := s.hasher.Hash(plainPassword)
	if err != nil {
		s.logger.Error(ctx, "password hashing failed", "error", err)
		return nil, err
	}

	account, err := accountRepo.Create(ctx, &models.Account{
		LoginID:      loginID,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
		Status:       models.StatusUnconfirmed,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.E(common.KindConflict, "login id already exists")
		}
		s.logger.Error(ctx, "account creation failed", "error", err)
		return nil, err
	}

	messageID, err := s.issueCode(ctx, account, false)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "account registered", "account_id", account.ID)
	return &Receipt{MessageID: messageID}, nil
}

// Authenticate verifies credentials and issues a signed session token.
// UNCONFIRMED accounts never receive a token.
func (s *IdentityService) Authenticate(ctx context.Context, loginID, plainPassword string) (string, error) {
	if loginID == "" || plainPassword == "" || len(strings.TrimSpace(plainPassword)) < minPasswordLength {
		return "", common.E(common.KindInvalidInput, "invalid credentials format")
	}
	if !emailPattern.MatchString(loginID) {
		return "", common.E(common.KindInvalidInput, "invalid login id")
	}

	account, err := s.repomanager.Accounts(s.db).GetByLoginID(ctx, loginID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.E(common.KindUnauthorized, "authentication failed")
		}
		s.logger.Error(ctx, "authentication lookup failed", "error", err)
		return "", err
	}

	if !s.hasher.Verify(plainPassword, account.PasswordHash) {
		return "", common.E(common.KindUnauthorized, "authentication failed")
	}

	if account.Status == models.StatusUnconfirmed {
		return "", common.E(common.KindUnauthorized, "account is not confirmed")
	}

	token, err := auth.GenerateToken(account.ID, s.jwtSecret, s.tokenValidity)
	if err != nil {
		s.logger.Error(ctx, "token signing failed", "error", err)
		return "", err
	}

	return token, nil
}

// RequestPasswordReset replaces the account's password with a hashed
// temporary credential, marks the account PASSWORD_RESET_REQUIRED, and mails
// the temporary credential out.
func (s *IdentityService) RequestPasswordReset(ctx context.Context, loginID string) (*Receipt, error) {
	if loginID == "" || !emailPattern.MatchString(loginID) {
		return nil, common.E(common.KindInvalidInput, "invalid login id")
	}

	account, err := s.repomanager.Accounts(s.db).GetByLoginID(ctx, loginID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.E(common.KindNotFound, "account does not exist")
		}
		s.logger.Error(ctx, "reset lookup failed", "error", err)
		return nil, err
	}

	tempPassword, err := common.RandomPassword(tempPasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(tempPassword)
	if err != nil {
		s.logger.Error(ctx, "password hashing failed", "error", err)
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		if _, err := repo.UpdatePassword(ctx, account.ID, hash); err != nil {
			return err
		}
		_, err := repo.UpdateStatus(ctx, account.ID, models.StatusPasswordResetRequired)
		return err
	})
	if err != nil {
		s.logger.Error(ctx, "password update failed", "account_id", account.ID, "error", err)
		return nil, common.E(common.KindInternal, "password update failed")
	}

	messageID, err := s.notifier.SendPasswordReset(ctx, account.LoginID, tempPassword)
	if err != nil {
		s.logger.Warn(ctx, "password reset mail not dispatched", "account_id", account.ID, "error", err)
		return nil, common.E(common.KindDeliveryFailure, "password reset email could not be sent")
	}

	s.logger.Info(ctx, "password reset requested", "account_id", account.ID)
	return &Receipt{MessageID: messageID}, nil
}

// ConfirmCode matches an unexpired code against (loginID, code) and moves
// the owning account to CONFIRMED. Confirming an already-CONFIRMED account
// succeeds again; the transition is idempotent for the caller.
func (s *IdentityService) ConfirmCode(ctx context.Context, loginID, code string) error {
	if loginID == "" || code == "" {
		return common.E(common.KindInvalidInput, "all fields are required")
	}
	if len(strings.TrimSpace(code)) != s.codeLength {
		return common.E(common.KindInvalidInput, "invalid code format")
	}
	if !emailPattern.MatchString(loginID) {
		return common.E(common.KindInvalidInput, "invalid login id")
	}

	verificationCode, err := s.repomanager.Codes(s.db).FindByCode(ctx, loginID, code)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.E(common.KindNotFound, "verification code not found")
		}
		s.logger.Error(ctx, "code lookup failed", "error", err)
		return err
	}

	if _, err := s.repomanager.Accounts(s.db).UpdateStatus(ctx, verificationCode.AccountID, models.StatusConfirmed); err != nil {
		s.logger.Error(ctx, "status transition failed", "account_id", verificationCode.AccountID, "error", err)
		return err
	}

	s.logger.Info(ctx, "account confirmed", "account_id", verificationCode.AccountID)
	return nil
}

// ResendCode issues a replacement verification code for an UNCONFIRMED
// account. A still-valid prior code is a conflict; an expired one is
// replaced in place; a missing one gets a fresh row.
func (s *IdentityService) ResendCode(ctx context.Context, loginID string) (*Receipt, error) {
	if loginID == "" || !emailPattern.MatchString(loginID) {
		return nil, common.E(common.KindInvalidInput, "invalid login id")
	}

	account, err := s.repomanager.Accounts(s.db).GetByLoginID(ctx, loginID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.E(common.KindNotFound, "account does not exist")
		}
		s.logger.Error(ctx, "resend lookup failed", "error", err)
		return nil, err
	}

	if account.Status == models.StatusConfirmed {
		return nil, common.E(common.KindConflict, "account is already confirmed")
	}

	existing, err := s.repomanager.Codes(s.db).FindByAccountID(ctx, account.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// No code row for an unconfirmed account: recover by issuing
			// a fresh one.
			messageID, err := s.issueCode(ctx, account, false)
			if err != nil {
				return nil, err
			}
			return &Receipt{MessageID: messageID}, nil
		}
		s.logger.Error(ctx, "code lookup failed", "error", err)
		return nil, err
	}

	if !existing.Expired(s.now()) {
		return nil, common.E(common.KindConflict, "a confirmation code was already sent")
	}

	messageID, err := s.issueCode(ctx, account, true)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "verification code resent", "account_id", account.ID)
	return &Receipt{MessageID: messageID}, nil
}

// issueCode generates a fresh code, stores it (replacing the prior row in
// place when replace is set), and dispatches it.
func (s *IdentityService) issueCode(ctx context.Context, account *models.Account, replace bool) (string, error) {
	code, err := common.RandomCode(s.codeLength)
	if err != nil {
		return "", err
	}
	expiresAt := s.now().Add(s.codeTTL)

	repo := s.repomanager.Codes(s.db)
	if replace {
		// Conditional on the stored row being expired; a concurrent resend
		// that already refreshed it wins and we report the conflict.
		if _, err := repo.Replace(ctx, account.ID, code, expiresAt); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return "", common.E(common.KindConflict, "a confirmation code was already sent")
			}
			s.logger.Error(ctx, "code replacement failed", "account_id", account.ID, "error", err)
			return "", err
		}
	} else {
		if _, err := repo.Create(ctx, account.ID, account.LoginID, code, expiresAt); err != nil {
			s.logger.Error(ctx, "code creation failed", "account_id", account.ID, "error", err)
			return "", err
		}
	}

	messageID, err := s.notifier.SendVerificationCode(ctx, account.LoginID, code)
	if err != nil {
		s.logger.Warn(ctx, "verification mail not dispatched", "account_id", account.ID, "error", err)
		return "", common.E(common.KindDeliveryFailure, "verification email could not be sent")
	}

	return messageID, nil
}
