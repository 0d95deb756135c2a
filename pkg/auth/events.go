package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AhHanie/axion-demo/pkg/store"
)

// exposed is the allow-list of functions peers may call on this module
var exposed = map[string]bool{
	"verifyShortTokenEvent": true,
	"findUserByIdEvent":     true,
}

// Interceptor is the single bus entry point. Functions outside the
// allow-list are rejected with a structured error.
func (m *Manager) Interceptor(ctx context.Context, fnName string, args json.RawMessage) (any, error) {
	if !exposed[fnName] {
		return nil, fmt.Errorf("%s is not executable", fnName)
	}

	switch fnName {
	case "verifyShortTokenEvent":
		payload := struct {
			Token string `json:"token"`
		}{}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		claims, err := m.tokens.VerifyShortToken(payload.Token)
		if err != nil {
			return nil, err
		}
		return claims, nil
	case "findUserByIdEvent":
		payload := struct {
			ID string `json:"id"`
		}{}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		user := &User{}
		if err := m.store.Get(ctx, Collection, payload.ID, user); err != nil {
			if err == store.ErrNotFound {
				return nil, fmt.Errorf("user %s not found", payload.ID)
			}
			return nil, err
		}
		return user.Public(), nil
	default:
		return nil, fmt.Errorf("%s is not executable", fnName)
	}
}
