package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/grandline/identity/internal/common"
	"github.com/grandline/identity/internal/dbx"
	"github.com/grandline/identity/internal/logging"
	"github.com/grandline/identity/internal/server/auth"
	"github.com/grandline/identity/internal/server/config"
	"github.com/grandline/identity/internal/server/models"
	"github.com/grandline/identity/internal/server/password"
	accountsrepo "github.com/grandline/identity/internal/server/repositories/accounts"
	codesrepo "github.com/grandline/identity/internal/server/repositories/codes"
)

// --- fakes ---

type fakeAccountsRepo struct {
	byID      map[string]*models.Account
	nextID    int
	createErr error
	lookupErr error
	updateErr error
}

func newFakeAccountsRepo() *fakeAccountsRepo {
	return &fakeAccountsRepo{byID: map[string]*models.Account{}}
}

func (f *fakeAccountsRepo) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, existing := range f.byID {
		if existing.LoginID == a.LoginID {
			return nil, common.ErrorAlreadyExists
		}
	}
	f.nextID++
	a.ID = fmt.Sprintf("acc-%d", f.nextID)
	a.CreatedAt = time.Now()
	f.byID[a.ID] = a
	return a, nil
}

func (f *fakeAccountsRepo) GetByLoginID(ctx context.Context, loginID string) (*models.Account, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, a := range f.byID {
		if a.LoginID == loginID {
			return a, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeAccountsRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a, nil
}

func (f *fakeAccountsRepo) UpdateStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	a.Status = status
	return a, nil
}

func (f *fakeAccountsRepo) UpdatePassword(ctx context.Context, id string, hash string) (*models.Account, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	a, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	a.PasswordHash = hash
	return a, nil
}

type fakeCodesRepo struct {
	byAccount map[string]*models.VerificationCode
	nextID    int64
	createErr error
}

func newFakeCodesRepo() *fakeCodesRepo {
	return &fakeCodesRepo{byAccount: map[string]*models.VerificationCode{}}
}

func (f *fakeCodesRepo) Create(ctx context.Context, accountID, email, code string, expiresAt time.Time) (*models.VerificationCode, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if accountID == "" {
		return nil, codesrepo.ErrMissingAccountID
	}
	f.nextID++
	c := &models.VerificationCode{
		ID: f.nextID, AccountID: accountID, Email: email,
		Code: code, ExpiresAt: expiresAt, CreatedAt: time.Now(),
	}
	f.byAccount[accountID] = c
	return c, nil
}

func (f *fakeCodesRepo) FindByCode(ctx context.Context, email, code string) (*models.VerificationCode, error) {
	for _, c := range f.byAccount {
		if c.Email == email && c.Code == code && !c.Expired(time.Now()) {
			return c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeCodesRepo) FindByAccountID(ctx context.Context, accountID string) (*models.VerificationCode, error) {
	c, ok := f.byAccount[accountID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return c, nil
}

func (f *fakeCodesRepo) Replace(ctx context.Context, accountID, code string, expiresAt time.Time) (*models.VerificationCode, error) {
	c, ok := f.byAccount[accountID]
	if !ok || !c.Expired(time.Now()) {
		return nil, common.ErrorNotFound
	}
	c.Code = code
	c.ExpiresAt = expiresAt
	return c, nil
}

type fakeRepoManager struct {
	accounts *fakeAccountsRepo
	codes    *fakeCodesRepo
}

func (m *fakeRepoManager) Accounts(db dbx.DBTX) accountsrepo.Repository { return m.accounts }
func (m *fakeRepoManager) Codes(db dbx.DBTX) codesrepo.Repository      { return m.codes }
func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

type fakeNotifier struct {
	verificationSent []string
	resetSent        []string
	sendErr          error
}

func (n *fakeNotifier) SendVerificationCode(ctx context.Context, to, code string) (string, error) {
	if n.sendErr != nil {
		return "", n.sendErr
	}
	n.verificationSent = append(n.verificationSent, to)
	return "msg-verification", nil
}

func (n *fakeNotifier) SendPasswordReset(ctx context.Context, to, tempPassword string) (string, error) {
	if n.sendErr != nil {
		return "", n.sendErr
	}
	n.resetSent = append(n.resetSent, to)
	return "msg-reset", nil
}

// --- helpers ---

type testEnv struct {
	svc      *IdentityService
	accounts *fakeAccountsRepo
	codes    *fakeCodesRepo
	notifier *fakeNotifier
	mock     sqlmock.Sqlmock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm := &fakeRepoManager{accounts: newFakeAccountsRepo(), codes: newFakeCodesRepo()}
	notifier := &fakeNotifier{}

	cfg := &config.Config{
		SecretKey:             "k",
		TokenValidityDuration: time.Hour,
		CodeLength:            12,
		CodeTTL:               10 * time.Minute,
	}
	svc := NewIdentityService(db, rm, password.NewHasher(bcrypt.MinCost), notifier, noopLogger(), cfg)

	return &testEnv{svc: svc, accounts: rm.accounts, codes: rm.codes, notifier: notifier, mock: mock}
}

func noopLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func register(t *testing.T, env *testEnv, loginID string) *models.Account {
	t.Helper()
	_, err := env.svc.Register(context.Background(), "Monkey", "Luffy", loginID, "strawhat1")
	require.NoError(t, err)
	a, err := env.accounts.GetByLoginID(context.Background(), loginID)
	require.NoError(t, err)
	return a
}

// --- Register ---

func TestRegister_CreatesUnconfirmedAccountWithCode(t *testing.T) {
	env := newTestEnv(t)

	receipt, err := env.svc.Register(context.Background(), "Monkey", "Luffy", "luffy@grandline.example", "strawhat1")
	require.NoError(t, err)
	assert.Equal(t, "msg-verification", receipt.MessageID)

	a, err := env.accounts.GetByLoginID(context.Background(), "luffy@grandline.example")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnconfirmed, a.Status)
	assert.NotEqual(t, "strawhat1", a.PasswordHash, "password must be stored hashed")

	c, err := env.codes.FindByAccountID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.LoginID, c.Email, "code destination must equal the login id")
	assert.Len(t, c.Code, 12)
	assert.True(t, c.ExpiresAt.After(time.Now()), "code expiry must be in the future")
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), c.ExpiresAt, time.Minute)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		firstName string
		lastName  string
		loginID   string
		password  string
	}{
		{name: "missing fields", firstName: "", lastName: "Luffy", loginID: "luffy@grandline.example", password: "strawhat1"},
		{name: "short password", firstName: "Monkey", lastName: "Luffy", loginID: "luffy@grandline.example", password: "short"},
		{name: "whitespace password", firstName: "Monkey", lastName: "Luffy", loginID: "luffy@grandline.example", password: "         "},
		{name: "bad email", firstName: "Monkey", lastName: "Luffy", loginID: "not-an-email", password: "strawhat1"},
		{name: "bad name", firstName: "M0nkey!", lastName: "Luffy", loginID: "luffy@grandline.example", password: "strawhat1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Register(ctx, tt.firstName, tt.lastName, tt.loginID, tt.password)
			require.Error(t, err)
			assert.Equal(t, common.KindInvalidInput, common.KindOf(err))
		})
	}
}

func TestRegister_AcceptsDiacriticsAndApostrophes(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), "Jean-Sébastien", "O'Brien", "js@grandline.example", "strawhat1")
	require.NoError(t, err)
}

func TestRegister_DuplicateLoginIDConflicts(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "luffy@grandline.example")

	_, err := env.svc.Register(context.Background(), "Monkey", "Luffy", "luffy@grandline.example", "strawhat1")
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	// no second account
	count := 0
	for range env.accounts.byID {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestRegister_RaceLostAtInsertIsConflict(t *testing.T) {
	env := newTestEnv(t)
	// Pre-check passes (lookup sees nothing) but the insert reports the
	// storage-level unique violation.
	env.accounts.lookupErr = common.ErrorNotFound
	env.accounts.createErr = common.ErrorAlreadyExists

	_, err := env.svc.Register(context.Background(), "Monkey", "Luffy", "luffy@grandline.example", "strawhat1")
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestRegister_DispatchFailureSurfacesButAccountPersists(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.sendErr = errors.New("smtp down")

	_, err := env.svc.Register(context.Background(), "Monkey", "Luffy", "luffy@grandline.example", "strawhat1")
	require.Error(t, err)
	assert.Equal(t, common.KindDeliveryFailure, common.KindOf(err))

	// account row already committed; resend is the recovery path
	a, err := env.accounts.GetByLoginID(context.Background(), "luffy@grandline.example")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnconfirmed, a.Status)
}

// --- Authenticate ---

func TestAuthenticate_UnconfirmedAccountIsRejected(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "luffy@grandline.example")

	_, err := env.svc.Authenticate(context.Background(), "luffy@grandline.example", "strawhat1")
	require.Error(t, err)
	assert.Equal(t, common.KindUnauthorized, common.KindOf(err))
}

func TestAuthenticate_UnknownAccountIsRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Authenticate(context.Background(), "nobody@grandline.example", "strawhat1")
	require.Error(t, err)
	assert.Equal(t, common.KindUnauthorized, common.KindOf(err))
}

func TestAuthenticate_ConfirmedAccountGetsToken(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	a.Status = models.StatusConfirmed

	token, err := env.svc.Authenticate(context.Background(), "luffy@grandline.example", "strawhat1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	accountID, err := auth.GetAccountIDFromToken(token, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, accountID)
}

func TestAuthenticate_PasswordResetRequiredStillAuthenticates(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	a.Status = models.StatusPasswordResetRequired

	token, err := env.svc.Authenticate(context.Background(), "luffy@grandline.example", "strawhat1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestAuthenticate_WrongPasswordIsRejected(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	a.Status = models.StatusConfirmed

	_, err := env.svc.Authenticate(context.Background(), "luffy@grandline.example", "wrongpass1")
	require.Error(t, err)
	assert.Equal(t, common.KindUnauthorized, common.KindOf(err))
}

// --- RequestPasswordReset ---

func TestRequestPasswordReset_ReplacesPasswordAndStatus(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	a.Status = models.StatusConfirmed
	oldHash := a.PasswordHash

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	receipt, err := env.svc.RequestPasswordReset(context.Background(), "luffy@grandline.example")
	require.NoError(t, err)
	assert.Equal(t, "msg-reset", receipt.MessageID)

	assert.Equal(t, models.StatusPasswordResetRequired, a.Status)
	assert.NotEqual(t, oldHash, a.PasswordHash)
	assert.Equal(t, []string{"luffy@grandline.example"}, env.notifier.resetSent)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRequestPasswordReset_UnknownAccountIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.RequestPasswordReset(context.Background(), "nobody@grandline.example")
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestRequestPasswordReset_UpdateFailureIsDistinctFromNotFound(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "luffy@grandline.example")

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	env.accounts.updateErr = common.ErrorNotFound

	_, err := env.svc.RequestPasswordReset(context.Background(), "luffy@grandline.example")
	require.Error(t, err)
	var typed *common.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, common.KindInternal, typed.Kind)
	assert.Equal(t, "password update failed", typed.Message)
}

// --- ConfirmCode ---

func TestConfirmCode_TransitionsToConfirmed(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	code := env.codes.byAccount[a.ID].Code

	err := env.svc.ConfirmCode(context.Background(), "luffy@grandline.example", code)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, a.Status)
}

func TestConfirmCode_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	code := env.codes.byAccount[a.ID].Code

	require.NoError(t, env.svc.ConfirmCode(context.Background(), "luffy@grandline.example", code))
	require.NoError(t, env.svc.ConfirmCode(context.Background(), "luffy@grandline.example", code))
	assert.Equal(t, models.StatusConfirmed, a.Status)
}

func TestConfirmCode_ExpiredCodeIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	c := env.codes.byAccount[a.ID]
	c.ExpiresAt = time.Now().Add(-time.Minute)

	err := env.svc.ConfirmCode(context.Background(), "luffy@grandline.example", c.Code)
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
	assert.Equal(t, models.StatusUnconfirmed, a.Status)
}

func TestConfirmCode_WrongLengthIsInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.ConfirmCode(context.Background(), "luffy@grandline.example", "short")
	require.Error(t, err)
	assert.Equal(t, common.KindInvalidInput, common.KindOf(err))
}

// --- ResendCode ---

func TestResendCode_StillValidCodeConflicts(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "luffy@grandline.example")

	_, err := env.svc.ResendCode(context.Background(), "luffy@grandline.example")
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestResendCode_ExpiredCodeIsReplacedInPlace(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	c := env.codes.byAccount[a.ID]
	oldCode := c.Code
	oldID := c.ID
	c.ExpiresAt = time.Now().Add(-time.Minute)

	receipt, err := env.svc.ResendCode(context.Background(), "luffy@grandline.example")
	require.NoError(t, err)
	assert.Equal(t, "msg-verification", receipt.MessageID)

	replaced := env.codes.byAccount[a.ID]
	assert.Equal(t, oldID, replaced.ID, "replacement must reuse the row")
	assert.NotEqual(t, oldCode, replaced.Code)
	assert.True(t, replaced.ExpiresAt.After(time.Now()))

	// the superseded code no longer confirms
	err = env.svc.ConfirmCode(context.Background(), "luffy@grandline.example", oldCode)
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestResendCode_MissingCodeRowIssuesFreshCode(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	delete(env.codes.byAccount, a.ID)

	receipt, err := env.svc.ResendCode(context.Background(), "luffy@grandline.example")
	require.NoError(t, err)
	assert.Equal(t, "msg-verification", receipt.MessageID)

	c, err := env.codes.FindByAccountID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, c.Code, 12)
}

func TestResendCode_ConfirmedAccountConflicts(t *testing.T) {
	env := newTestEnv(t)
	a := register(t, env, "luffy@grandline.example")
	a.Status = models.StatusConfirmed

	_, err := env.svc.ResendCode(context.Background(), "luffy@grandline.example")
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestResendCode_UnknownAccountIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ResendCode(context.Background(), "nobody@grandline.example")
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

// --- end-to-end lifecycle ---

func TestLifecycle_RegisterConfirmAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	receipt, err := env.svc.Register(ctx, "Monkey", "Luffy", "luffy@grandline.example", "strawhat1")
	require.NoError(t, err)
	require.NotEmpty(t, receipt.MessageID)

	a, err := env.accounts.GetByLoginID(ctx, "luffy@grandline.example")
	require.NoError(t, err)
	require.Equal(t, models.StatusUnconfirmed, a.Status)

	code := env.codes.byAccount[a.ID].Code
	require.Len(t, code, 12)

	require.NoError(t, env.svc.ConfirmCode(ctx, "luffy@grandline.example", code))
	require.Equal(t, models.StatusConfirmed, a.Status)

	token, err := env.svc.Authenticate(ctx, "luffy@grandline.example", "strawhat1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = env.svc.Authenticate(ctx, "luffy@grandline.example", "wrongpass1")
	require.Error(t, err)
	require.Equal(t, common.KindUnauthorized, common.KindOf(err))
}
