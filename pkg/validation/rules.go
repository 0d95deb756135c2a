package validation

import (
	"regexp"
	"strings"
)

// Shared field patterns
var (
	// namePattern covers display names: letters and spaces only
	namePattern = regexp.MustCompile(`^[a-zA-Z ]+$`)
	// usernamePattern covers login names: lowercase letters and underscores
	usernamePattern = regexp.MustCompile(`^[a-z_]+$`)
)

// Roles a user may hold
const (
	RoleSuperAdmin  = "SuperAdmin"
	RoleSchoolAdmin = "SchoolAdmin"
)

const passwordSpecials = "@$!%*#?&"

// CheckPassword enforces password complexity: 8-20 characters drawn only
// from letters, digits and the special set, with at least one lowercase
// letter, one uppercase letter, one digit and one special character.
func CheckPassword(value string) string {
	if len(value) < 8 || len(value) > 20 {
		return "must be 8-20 characters"
	}
	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, ch := range value {
		switch {
		case ch >= 'a' && ch <= 'z':
			hasLower = true
		case ch >= 'A' && ch <= 'Z':
			hasUpper = true
		case ch >= '0' && ch <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, ch):
			hasSpecial = true
		default:
			return "may only contain letters, digits and " + passwordSpecials
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSpecial {
		return "must contain a lowercase letter, an uppercase letter, a digit and a special character"
	}
	return ""
}

// StudentRules validates student create/update payloads
func StudentRules() []Rule {
	return []Rule{
		{Field: "name", Required: true, MinLen: 1, MaxLen: 20, Pattern: namePattern},
		{Field: "classrooms", Required: true, MaxItems: 100, EachID: true},
	}
}

// ClassroomRules validates classroom create/update payloads
func ClassroomRules() []Rule {
	return []Rule{
		{Field: "name", Required: true, MinLen: 1, MaxLen: 20, Pattern: namePattern},
		{Field: "students", Required: true, MaxItems: 100, EachID: true},
	}
}

// SchoolRules validates school create/update payloads
func SchoolRules() []Rule {
	return []Rule{
		{Field: "name", Required: true, MinLen: 1, MaxLen: 20, Pattern: namePattern},
		{Field: "classrooms", Required: true, MaxItems: 100, EachID: true},
	}
}

// UserRules validates user creation payloads
func UserRules() []Rule {
	return []Rule{
		{Field: "username", Required: true, MinLen: 3, MaxLen: 20, Pattern: usernamePattern},
		{Field: "password", Required: true, Check: CheckPassword},
		{Field: "role", Required: true, OneOf: []string{RoleSuperAdmin, RoleSchoolAdmin}},
	}
}

// LoginRules validates login payloads
func LoginRules() []Rule {
	return []Rule{
		{Field: "username", Required: true, MinLen: 3, MaxLen: 20, Pattern: usernamePattern},
		{Field: "password", Required: true, MinLen: 8, MaxLen: 20},
	}
}
