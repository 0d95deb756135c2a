// Package bus implements the request/reply RPC protocol the services speak
// over Redis pub/sub.
//
// Every process runs one Node. A node announces itself under a node type with
// a TTL'd liveness key and listens on a private inbox channel. An outbound
// call picks exactly one live node of the target type and publishes a request
// envelope to that node's inbox; the callee publishes the reply envelope to
// the caller's reply channel, matched back by correlation id. Emit is the
// fire-and-forget variant used for consistency notifications: no reply
// channel, no delivery guarantee, no retry.
//
// Handlers are registered per module name. The only access control at this
// layer is the handler's own allow-list: a call names "<module>.<function>",
// and the module's Interceptor decides whether the function is callable.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a call gets no reply in time. Callers fail
	// closed: authorization treats it as unauthorized, existence checks abort
	// the guarded write.
	ErrTimeout = errors.New("bus call timed out")
	// ErrNoNodes is returned when no live node of the target type exists
	ErrNoNodes = errors.New("no live nodes for target type")
)

// Handler is the single entry point a module exposes to the bus. The
// implementation must reject any function name outside the module's
// allow-list and return the named handler's result otherwise.
type Handler interface {
	Interceptor(ctx context.Context, fnName string, args json.RawMessage) (any, error)
}

// RemoteError is a structured error replied by the callee
type RemoteError struct {
	Call    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bus call %s failed: %s", e.Call, e.Message)
}

// request is the wire envelope for calls and emits. ReplyTo is empty on
// fire-and-forget notifications.
type request struct {
	ID      string          `json:"id"`
	Call    string          `json:"call"`
	Args    json.RawMessage `json:"args"`
	ReplyTo string          `json:"replyTo,omitempty"`
	From    string          `json:"from"`
}

// reply is the wire envelope for call results
type reply struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}
