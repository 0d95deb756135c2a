package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/AhHanie/axion-demo/pkg/contextkeys"
	"github.com/AhHanie/axion-demo/pkg/httputil"
	"github.com/AhHanie/axion-demo/pkg/token"
)

// maxBodyBytes bounds request bodies before JSON decoding
const maxBodyBytes = 1 << 20

// EnvelopeMiddleware parses write-request bodies once into a field map and
// stores it on the context. The permission stage reads it to derive per-field
// checks and handlers read it instead of re-parsing the body. Requests
// without a body pass through with no envelope.
func EnvelopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			httputil.WriteBadRequest(w, "failed to read request body")
			return
		}
		r.Body.Close()

		envelope := map[string]any{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &envelope); err != nil {
				httputil.WriteBadRequest(w, "request body must be a JSON object")
				return
			}
		}

		ctx := context.WithValue(r.Context(), contextkeys.EnvelopeKey, envelope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceMiddleware captures the caller's device identifier. A "device"
// header wins; the user agent is the fallback so token minting always has
// something to hash.
func DeviceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device := r.Header.Get("device")
		if device == "" {
			device = r.UserAgent()
		}
		ctx := context.WithValue(r.Context(), contextkeys.DeviceKey, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetEnvelope returns the parsed request body, or an empty map when the
// request carried none.
func GetEnvelope(r *http.Request) map[string]any {
	if env, ok := r.Context().Value(contextkeys.EnvelopeKey).(map[string]any); ok {
		return env
	}
	return map[string]any{}
}

// GetClaims returns the short-token claims the token stage attached
func GetClaims(r *http.Request) (*token.ShortClaims, bool) {
	claims, ok := r.Context().Value(contextkeys.TokenKey).(*token.ShortClaims)
	return claims, ok
}

// GetLongClaims returns the long-token claims the long-token stage attached
func GetLongClaims(r *http.Request) (*token.LongClaims, bool) {
	claims, ok := r.Context().Value(contextkeys.LongTokenKey).(*token.LongClaims)
	return claims, ok
}

// GetDevice returns the caller's device identifier
func GetDevice(r *http.Request) string {
	device, _ := r.Context().Value(contextkeys.DeviceKey).(string)
	return device
}
