// Package token issues and verifies the two credential classes.
//
// A long token proves identity and exists only to mint short tokens. A short
// token authorizes ordinary operations and carries a per-mint session id plus
// a deterministic device hash. The two classes are signed with separate
// secrets so neither can be replayed as the other.
package token

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails verification
var ErrInvalidToken = errors.New("invalid token")

// LongClaims is the payload of a long token
type LongClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// ShortClaims is the payload of a short token
type ShortClaims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	DeviceID  string `json:"deviceId"`
	jwt.RegisteredClaims
}

// Manager signs and verifies both token classes
type Manager struct {
	longSecret  []byte
	shortSecret []byte
	longTTL     time.Duration
	shortTTL    time.Duration
}

// NewManager creates a token manager. TTLs of zero fall back to the defaults
// of roughly three years for long tokens and one year for short tokens.
func NewManager(longSecret, shortSecret string, longTTL, shortTTL time.Duration) *Manager {
	if longTTL <= 0 {
		longTTL = 3 * 365 * 24 * time.Hour
	}
	if shortTTL <= 0 {
		shortTTL = 365 * 24 * time.Hour
	}
	return &Manager{
		longSecret:  []byte(longSecret),
		shortSecret: []byte(shortSecret),
		longTTL:     longTTL,
		shortTTL:    shortTTL,
	}
}

// IssueLongToken mints a long token for the user
func (m *Manager) IssueLongToken(userID string) (string, error) {
	now := time.Now()
	claims := &LongClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.longTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.longSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign long token: %w", err)
	}
	return signed, nil
}

// VerifyLongToken parses and verifies a long token
func (m *Manager) VerifyLongToken(tokenString string) (*LongClaims, error) {
	claims := &LongClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return m.longSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueShortToken mints a short token for the user on the given device.
// Every mint gets a fresh session id; the device identifier is hashed so the
// raw value never appears in the credential.
func (m *Manager) IssueShortToken(userID, device string) (string, error) {
	now := time.Now()
	claims := &ShortClaims{
		UserID:    userID,
		SessionID: uuid.NewString(),
		DeviceID:  HashDevice(device),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.shortTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.shortSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign short token: %w", err)
	}
	return signed, nil
}

// VerifyShortToken parses and verifies a short token
func (m *Manager) VerifyShortToken(tokenString string) (*ShortClaims, error) {
	claims := &ShortClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return m.shortSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashDevice derives the deterministic device id from a device identifier
func HashDevice(device string) string {
	sum := md5.Sum([]byte(device))
	return hex.EncodeToString(sum[:])
}
