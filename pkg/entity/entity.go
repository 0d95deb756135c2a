// Package entity holds the pieces shared by the entity managers: the bus
// surface they coordinate over, the existence-check reply shape, reference
// list helpers, and the error taxonomy their handlers translate to HTTP.
package entity

import (
	"context"
	"encoding/json"
	"strings"
)

// Bus is the slice of the RPC bus the managers use: synchronous peer calls
// for existence checks and fire-and-forget notifications after local writes.
type Bus interface {
	Call(ctx context.Context, nodeType, call string, args any) (json.RawMessage, error)
	Emit(ctx context.Context, nodeType, call string, args any) error
}

// Target extracts the destination node type from a call name. A module's
// replicas announce themselves under the module name, so the prefix of
// "<module>.<fn>" is the type to address.
func Target(call string) string {
	module, _, _ := strings.Cut(call, ".")
	return module
}

// ExistsResult is the reply to an existence fan-out check
type ExistsResult struct {
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
	MissingIDs []string `json:"missingIds,omitempty"`
}

// ExistsArgs carries the ids an existence check covers
type ExistsArgs struct {
	IDs []string `json:"ids"`
}
