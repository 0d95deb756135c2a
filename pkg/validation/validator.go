// Package validation performs declarative validation of request payloads.
//
// Each entity declares a rule set for its writable fields; handlers run the
// incoming body through Validate before touching storage. Errors are collected
// per field so a response can report every problem at once.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Rule describes the constraints for a single payload field
type Rule struct {
	// Field is the payload key the rule applies to
	Field string
	// Required rejects missing or empty values
	Required bool
	// MinLen and MaxLen bound string length (0 means unbounded)
	MinLen int
	MaxLen int
	// Pattern must match the whole value when set
	Pattern *regexp.Regexp
	// OneOf restricts the value to a fixed set
	OneOf []string
	// MaxItems bounds list length (0 means unbounded)
	MaxItems int
	// EachID requires every list element to be a well-formed entity id
	EachID bool
	// Check is an optional custom predicate; it returns a message on failure
	Check func(value string) string
}

// Error describes a single failed rule
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result contains validation errors for one payload
type Result struct {
	Errors []*Error
	Valid  bool
}

// Messages flattens the errors for a response envelope
func (r *Result) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}

func (r *Result) addError(field, message string) {
	r.Errors = append(r.Errors, &Error{Field: field, Message: message})
}

// Validator validates payloads against a rule set
type Validator struct {
	rules []Rule
}

// NewValidator creates a validator for the given rule set
func NewValidator(rules []Rule) *Validator {
	return &Validator{rules: rules}
}

// Validate checks every rule against the payload. Unknown payload keys are
// ignored; only declared fields are checked.
func (v *Validator) Validate(payload map[string]any) *Result {
	result := &Result{
		Errors: make([]*Error, 0),
		Valid:  true,
	}

	for _, rule := range v.rules {
		value, present := payload[rule.Field]
		v.validateField(rule, value, present, result)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// ValidatePartial checks only the rules whose fields appear in the payload.
// Update handlers use it so omitted fields keep their stored values.
func (v *Validator) ValidatePartial(payload map[string]any) *Result {
	result := &Result{
		Errors: make([]*Error, 0),
		Valid:  true,
	}

	for _, rule := range v.rules {
		value, present := payload[rule.Field]
		if !present {
			continue
		}
		v.validateField(rule, value, present, result)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *Validator) validateField(rule Rule, value any, present bool, result *Result) {
	if !present || value == nil {
		if rule.Required {
			result.addError(rule.Field, "is required")
		}
		return
	}

	switch val := value.(type) {
	case string:
		v.validateString(rule, val, result)
	case []any:
		v.validateList(rule, val, result)
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		v.validateList(rule, list, result)
	default:
		result.addError(rule.Field, "has an unexpected type")
	}
}

func (v *Validator) validateString(rule Rule, value string, result *Result) {
	if rule.Required && strings.TrimSpace(value) == "" {
		result.addError(rule.Field, "is required")
		return
	}

	if rule.MinLen > 0 && len(value) < rule.MinLen {
		result.addError(rule.Field, fmt.Sprintf("must be at least %d characters", rule.MinLen))
	}
	if rule.MaxLen > 0 && len(value) > rule.MaxLen {
		result.addError(rule.Field, fmt.Sprintf("must be at most %d characters", rule.MaxLen))
	}
	if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
		result.addError(rule.Field, "has an invalid format")
	}
	if len(rule.OneOf) > 0 {
		found := false
		for _, allowed := range rule.OneOf {
			if value == allowed {
				found = true
				break
			}
		}
		if !found {
			result.addError(rule.Field, fmt.Sprintf("must be one of: %s", strings.Join(rule.OneOf, ", ")))
		}
	}
	if rule.Check != nil {
		if msg := rule.Check(value); msg != "" {
			result.addError(rule.Field, msg)
		}
	}
}

func (v *Validator) validateList(rule Rule, values []any, result *Result) {
	if rule.MaxItems > 0 && len(values) > rule.MaxItems {
		result.addError(rule.Field, fmt.Sprintf("must contain at most %d items", rule.MaxItems))
	}
	for _, item := range values {
		s, ok := item.(string)
		if !ok {
			result.addError(rule.Field, "must contain only strings")
			return
		}
		if rule.EachID {
			if _, err := uuid.Parse(s); err != nil {
				result.addError(rule.Field, fmt.Sprintf("contains an invalid id %q", s))
				return
			}
		}
	}
}

// ValidateID checks a path parameter is a well-formed entity id
func ValidateID(id string) error {
	if id == "" {
		return &Error{Field: "id", Message: "is required"}
	}
	if _, err := uuid.Parse(id); err != nil {
		return &Error{Field: "id", Message: "has an invalid format"}
	}
	return nil
}
