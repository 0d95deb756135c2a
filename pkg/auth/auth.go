// Package auth owns user accounts and both token tiers. Passwords are
// bcrypt-hashed at rest and the hash never crosses the API or the bus.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/observability"
	"github.com/AhHanie/axion-demo/pkg/store"
	"github.com/AhHanie/axion-demo/pkg/token"
	"github.com/AhHanie/axion-demo/pkg/validation"
)

const (
	// Module is the name this manager registers under on the bus
	Module = "auth"
	// Collection is the document store collection
	Collection = "users"
)

// ErrInvalidCredentials collapses unknown-username and wrong-password into
// one answer so login probes learn nothing.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is the stored account record. The hash is persisted but stripped
// from every outbound view.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublicUser is the outbound view of an account
type PublicUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Public strips the credential material
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Session couples an account view with a freshly minted long token
type Session struct {
	User  *PublicUser `json:"user"`
	Token string      `json:"token"`
}

// Manager implements account CRUD, login and token minting
type Manager struct {
	store     *store.Store
	tokens    *token.Manager
	validator *validation.Validator
	logins    *validation.Validator
	logger    *observability.Logger
}

// NewManager creates the auth manager
func NewManager(s *store.Store, tokens *token.Manager, logger *observability.Logger) *Manager {
	return &Manager{
		store:     s,
		tokens:    tokens,
		validator: validation.NewValidator(validation.UserRules()),
		logins:    validation.NewValidator(validation.LoginRules()),
		logger:    logger.WithField("module", Module),
	}
}

// Tokens exposes the token manager for the long-token stage
func (m *Manager) Tokens() *token.Manager {
	return m.tokens
}

// CreateUser validates the payload, enforces username uniqueness, hashes
// the password and returns the account with a fresh long token.
func (m *Manager) CreateUser(ctx context.Context, payload map[string]any) (*Session, error) {
	username, _ := payload["username"].(string)
	password, _ := payload["password"].(string)
	role, _ := payload["role"].(string)

	if result := m.validator.Validate(map[string]any{
		"username": username,
		"password": password,
		"role":     role,
	}); !result.Valid {
		return nil, &entity.ValidationError{Messages: result.Messages()}
	}

	existing, err := m.findByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &entity.ValidationError{Messages: []string{"username: already taken"}}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Put(ctx, Collection, user.ID, user); err != nil {
		return nil, err
	}

	longToken, err := m.tokens.IssueLongToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing long token: %w", err)
	}
	return &Session{User: user.Public(), Token: longToken}, nil
}

// Login verifies the credentials and returns the account with a fresh long
// token. Unknown usernames and wrong passwords are indistinguishable.
func (m *Manager) Login(ctx context.Context, payload map[string]any) (*Session, error) {
	username, _ := payload["username"].(string)
	password, _ := payload["password"].(string)

	if result := m.logins.Validate(map[string]any{
		"username": username,
		"password": password,
	}); !result.Valid {
		return nil, &entity.ValidationError{Messages: result.Messages()}
	}

	user, err := m.findByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	longToken, err := m.tokens.IssueLongToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing long token: %w", err)
	}
	return &Session{User: user.Public(), Token: longToken}, nil
}

// CreateShortToken mints a short token for a long-token-verified account.
// Each mint carries a fresh session id and the caller's device hash.
func (m *Manager) CreateShortToken(ctx context.Context, userID, device string) (string, error) {
	user := &User{}
	if err := m.store.Get(ctx, Collection, userID, user); err != nil {
		if err == store.ErrNotFound {
			return "", &entity.NotFoundError{Kind: "User"}
		}
		return "", err
	}
	return m.tokens.IssueShortToken(user.ID, device)
}

// GetUsers returns every account, credential material stripped
func (m *Manager) GetUsers(ctx context.Context) ([]*PublicUser, error) {
	raw, err := m.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}

	users := make([]*PublicUser, 0, len(raw))
	for _, doc := range raw {
		user := &User{}
		if err := json.Unmarshal(doc, user); err != nil {
			return nil, fmt.Errorf("corrupt user document: %w", err)
		}
		users = append(users, user.Public())
	}
	return users, nil
}

// DeleteUser removes an account
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	if err := validation.ValidateID(id); err != nil {
		return &entity.ValidationError{Messages: []string{err.Error()}}
	}
	if err := m.store.Delete(ctx, Collection, id); err != nil {
		if err == store.ErrNotFound {
			return &entity.NotFoundError{Kind: "User"}
		}
		return err
	}
	return nil
}

// findByUsername scans the collection for a username match. Usernames are
// unique so the first hit wins. Returns nil without error when absent.
func (m *Manager) findByUsername(ctx context.Context, username string) (*User, error) {
	raw, err := m.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}
	for _, doc := range raw {
		user := &User{}
		if err := json.Unmarshal(doc, user); err != nil {
			return nil, fmt.Errorf("corrupt user document: %w", err)
		}
		if user.Username == username {
			return user, nil
		}
	}
	return nil, nil
}
