// Package permissions implements the hierarchical role/permission engine.
//
// Permissions form a tree of layers. Each layer holds per-role overrides keyed
// by "_<Role>" plus a "_default" fallback; an override names the most powerful
// action anyone holding that role may take inside the layer. A request is
// granted when the requested action's scale does not exceed the override's.
// The tree is immutable after construction, so lookups need no locking.
package permissions

import (
	"strings"
)

// Action is a permission action, ordered by scale
type Action string

const (
	ActionBlocked Action = "blocked"
	ActionNone    Action = "none"
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionAudit   Action = "audit"
	ActionConfig  Action = "config"
)

var actionScale = map[Action]int{
	ActionBlocked: -1,
	ActionNone:    1,
	ActionRead:    2,
	ActionCreate:  3,
	ActionAudit:   4,
	ActionConfig:  5,
}

// Scale returns the action's position on the power scale. Unknown actions
// return 0, which sits below every grantable action.
func (a Action) Scale() int {
	return actionScale[a]
}

// Valid reports whether the action is one of the known actions
func (a Action) Valid() bool {
	_, ok := actionScale[a]
	return ok
}

// Override is a role's grant inside a layer
type Override struct {
	// AnyoneCan is the most powerful action the role may take
	AnyoneCan Action `yaml:"anyoneCan"`
}

// Layer is one node of the permission tree
type Layer struct {
	// Overrides maps "_default" and "_<Role>" keys to grants
	Overrides map[string]Override
	// Children maps sub-layer names to nested layers
	Children map[string]*Layer
}

// child resolves a dotted path below this layer
func (l *Layer) child(path string) *Layer {
	current := l
	for _, part := range strings.Split(path, ".") {
		next, ok := current.Children[part]
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

// Check describes one permission question
type Check struct {
	// Layer is the dotted path of the layer, e.g. "student" or "student.classroom"
	Layer string
	// Variant is the requesting user's role
	Variant string
	// Action is the requested action
	Action Action
	// IsOwner marks requests against the caller's own resources. Reserved for
	// ownership-scoped grants; the current tree does not branch on it.
	IsOwner bool
}

// Engine answers permission checks against a fixed tree
type Engine struct {
	root *Layer
}

// NewEngine creates an engine over the given tree root
func NewEngine(root *Layer) *Engine {
	return &Engine{root: root}
}

// HasLayer reports whether a layer exists at the dotted path. The request
// pipeline uses it to decide whether a module is governed at all.
func (e *Engine) HasLayer(path string) bool {
	return e.root.child(path) != nil
}

// IsGranted evaluates one check. Absent layers and absent overrides deny.
func (e *Engine) IsGranted(check Check) bool {
	layer := e.root.child(check.Layer)
	if layer == nil {
		return false
	}

	override, ok := layer.Overrides["_"+check.Variant]
	if !ok {
		override, ok = layer.Overrides["_default"]
		if !ok {
			return false
		}
	}

	return check.Action.Scale() <= override.AnyoneCan.Scale()
}
