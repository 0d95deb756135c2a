// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/AhHanie/axion-demo/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.TokenKey, claims)
//	claims := ctx.Value(contextkeys.TokenKey).(*token.ShortClaims)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TokenKey contains the decoded short-token claims
	// Set by: middleware.TokenStage (pkg/middleware/token.go)
	// Required by: permission stage, all guarded handlers
	// Type: *token.ShortClaims
	TokenKey Key = "token_claims"

	// LongTokenKey contains the decoded long-token claims
	// Set by: middleware.LongTokenStage (pkg/middleware/token.go)
	// Required by: the short-token minting endpoint
	// Type: *token.LongClaims
	LongTokenKey Key = "long_token_claims"

	// EnvelopeKey contains the parsed request body
	// Set by: middleware.EnvelopeMiddleware (pkg/middleware/envelope.go)
	// Required by: permission stage (field-level checks) and handlers
	// Type: map[string]any
	EnvelopeKey Key = "request_envelope"

	// DeviceKey contains the caller's device identifier
	// Set by: middleware.DeviceMiddleware
	// Used by: short-token minting
	// Type: string
	DeviceKey Key = "device_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware, observability layer
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"
)
