package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kasirinaja/pos/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true, CreatedAt: time.Now().UTC()},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "482913", store, zaptest.NewLogger(t))
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotEqual(t, "admin123", users[0].Password)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"), users[0].Password)
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	hash, err := hashPassword("pass1234")
	require.NoError(t, err)
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"kasir1": {Username: "kasir1", Password: hash, Role: domain.RoleCashier, Active: true},
			"kasir2": {Username: "kasir2", Password: hash, Role: domain.RoleCashier, Active: false},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "", store, zaptest.NewLogger(t))

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "kasir1", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "kasir2", Password: "pass1234"})
	assert.ErrorIs(t, err, ErrInactiveAccount)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " KASIR1 ", Password: "pass1234"})
	require.NoError(t, err)
	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "kasir1", Role: domain.RoleCashier}, actor)
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("secret-a", time.Hour, "", nil, nil)
	verifier := NewAuthManager("secret-b", time.Hour, "", nil, nil)

	token, err := issuer.sign("kasir1", domain.RoleCashier, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = verifier.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := issuer.sign("kasir1", domain.RoleCashier, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = issuer.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", &userStoreStub{users: map[string]domain.UserAccount{}}, nil)

	assert.NotEqual(t, "654321", manager.managerPIN)
	assert.True(t, manager.ValidateManagerPIN("654321"))
	assert.False(t, manager.ValidateManagerPIN("111111"))
}

func TestAuthorizeChecksSupervisorPIN(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", nil, zaptest.NewLogger(t))
	ctx := domain.WithActor(context.Background(), domain.Actor{Username: "kasir1", Role: domain.RoleCashier})

	ok, err := manager.Authorize(ctx, "cart.clear")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = manager.Authorize(domain.WithSupervisorPIN(ctx, "111111"), "cart.clear")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = manager.Authorize(domain.WithSupervisorPIN(ctx, "654321"), "cart.clear")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthorizeWithoutConfiguredPINDenies(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "", nil, nil)

	ok, err := manager.Authorize(domain.WithSupervisorPIN(context.Background(), "disabled"), "cart.remove_item")
	require.NoError(t, err)
	assert.False(t, ok)
}
