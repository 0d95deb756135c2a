package auth

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/observability"
	"github.com/AhHanie/axion-demo/pkg/store"
	"github.com/AhHanie/axion-demo/pkg/token"
)

const testPassword = "Sup3r@secret"

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tokens := token.NewManager("long-secret", "short-secret", 0, 0)
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	return NewManager(store.New(client, "test"), tokens, logger)
}

func createTestUser(t *testing.T, m *Manager, username, role string) *Session {
	t.Helper()
	session, err := m.CreateUser(context.Background(), map[string]any{
		"username": username,
		"password": testPassword,
		"role":     role,
	})
	require.NoError(t, err)
	return session
}

func TestCreateUser(t *testing.T) {
	m := newTestManager(t)

	session := createTestUser(t, m, "principal", "SuperAdmin")
	assert.NotEmpty(t, session.User.ID)
	assert.Equal(t, "principal", session.User.Username)
	assert.Equal(t, "SuperAdmin", session.User.Role)

	// The returned token is a valid long token for the new account
	claims, err := m.tokens.VerifyLongToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID)
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	m := newTestManager(t)
	createTestUser(t, m, "principal", "SuperAdmin")

	_, err := m.CreateUser(context.Background(), map[string]any{
		"username": "principal",
		"password": testPassword,
		"role":     "SchoolAdmin",
	})

	var validationErr *entity.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Messages[0], "already taken")
}

func TestCreateUserValidation(t *testing.T) {
	m := newTestManager(t)

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"uppercase username", map[string]any{"username": "Principal", "password": testPassword, "role": "SuperAdmin"}},
		{"weak password", map[string]any{"username": "principal", "password": "password", "role": "SuperAdmin"}},
		{"unknown role", map[string]any{"username": "principal", "password": testPassword, "role": "Janitor"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.CreateUser(context.Background(), tc.payload)
			var validationErr *entity.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestLogin(t *testing.T) {
	m := newTestManager(t)
	created := createTestUser(t, m, "principal", "SuperAdmin")

	session, err := m.Login(context.Background(), map[string]any{
		"username": "principal",
		"password": testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, session.User.ID)

	claims, err := m.tokens.VerifyLongToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, claims.UserID)
}

func TestLoginBadCredentials(t *testing.T) {
	m := newTestManager(t)
	createTestUser(t, m, "principal", "SuperAdmin")

	// Wrong password and unknown username fail identically
	_, err := m.Login(context.Background(), map[string]any{
		"username": "principal",
		"password": "Wr0ng@pass",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.Login(context.Background(), map[string]any{
		"username": "stranger",
		"password": testPassword,
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateShortToken(t *testing.T) {
	m := newTestManager(t)
	created := createTestUser(t, m, "principal", "SuperAdmin")

	shortToken, err := m.CreateShortToken(context.Background(), created.User.ID, "laptop")
	require.NoError(t, err)

	claims, err := m.tokens.VerifyShortToken(shortToken)
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, claims.UserID)
	assert.Equal(t, token.HashDevice("laptop"), claims.DeviceID)

	// Each mint opens a fresh session
	again, err := m.CreateShortToken(context.Background(), created.User.ID, "laptop")
	require.NoError(t, err)
	more, err := m.tokens.VerifyShortToken(again)
	require.NoError(t, err)
	assert.NotEqual(t, claims.SessionID, more.SessionID)
}

func TestCreateShortTokenUnknownUser(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateShortToken(context.Background(), uuid.NewString(), "laptop")
	var notFound *entity.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestGetUsersStripsHashes(t *testing.T) {
	m := newTestManager(t)
	createTestUser(t, m, "principal", "SuperAdmin")
	createTestUser(t, m, "teacher", "SchoolAdmin")

	users, err := m.GetUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)

	raw, err := json.Marshal(users)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "passwordHash")
}

func TestDeleteUser(t *testing.T) {
	m := newTestManager(t)
	created := createTestUser(t, m, "principal", "SuperAdmin")

	require.NoError(t, m.DeleteUser(context.Background(), created.User.ID))

	var notFound *entity.NotFoundError
	assert.ErrorAs(t, m.DeleteUser(context.Background(), created.User.ID), &notFound)
}

func TestVerifyShortTokenEvent(t *testing.T) {
	m := newTestManager(t)
	created := createTestUser(t, m, "principal", "SuperAdmin")

	shortToken, err := m.CreateShortToken(context.Background(), created.User.ID, "laptop")
	require.NoError(t, err)

	args, _ := json.Marshal(map[string]string{"token": shortToken})
	result, err := m.Interceptor(context.Background(), "verifyShortTokenEvent", args)
	require.NoError(t, err)

	claims := result.(*token.ShortClaims)
	assert.Equal(t, created.User.ID, claims.UserID)

	// Garbage fails verification instead of returning empty claims
	args, _ = json.Marshal(map[string]string{"token": "not-a-token"})
	_, err = m.Interceptor(context.Background(), "verifyShortTokenEvent", args)
	assert.Error(t, err)
}

func TestFindUserByIdEvent(t *testing.T) {
	m := newTestManager(t)
	created := createTestUser(t, m, "principal", "SuperAdmin")

	args, _ := json.Marshal(map[string]string{"id": created.User.ID})
	result, err := m.Interceptor(context.Background(), "findUserByIdEvent", args)
	require.NoError(t, err)

	user := result.(*PublicUser)
	assert.Equal(t, "principal", user.Username)
	assert.Equal(t, "SuperAdmin", user.Role)

	raw, _ := json.Marshal(result)
	assert.NotContains(t, string(raw), "passwordHash")

	args, _ = json.Marshal(map[string]string{"id": uuid.NewString()})
	_, err = m.Interceptor(context.Background(), "findUserByIdEvent", args)
	assert.Error(t, err)
}

func TestInterceptorAllowList(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Interceptor(context.Background(), "CreateUser", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not executable")
}
