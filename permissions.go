package laraplate

import (
	"strings"
)

// PermissionMatcher handles permission matching with wildcard support.
//
// Permission names follow the module.model.action convention. Supported patterns:
//   - "*" matches all permissions
//   - "core.users.*" matches every action on a model
//   - "core.*.select" matches an action on every model of a module
//   - "*.*.select" matches an action everywhere
//   - "core.users.select" matches exactly
type PermissionMatcher struct{}

// NewPermissionMatcher creates a new PermissionMatcher.
func NewPermissionMatcher() *PermissionMatcher {
	return &PermissionMatcher{}
}

// Match checks if a permission pattern matches a required permission.
//
// Examples:
//
//	Match("*", "core.users.select")                 // true
//	Match("core.users.*", "core.users.update")      // true
//	Match("*.*.select", "cms.contents.select")      // true
//	Match("core.users.select", "core.users.delete") // false
func (pm *PermissionMatcher) Match(pattern, permission string) bool {
	if pattern == permission {
		return true
	}

	if pattern == "*" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	permParts := strings.Split(permission, ".")

	if len(patternParts) != len(permParts) {
		return false
	}

	for i, pp := range patternParts {
		if pp == "*" {
			continue
		}
		if pp != permParts[i] {
			return false
		}
	}

	return true
}

// MatchAny checks if any of the patterns match the required permission.
func (pm *PermissionMatcher) MatchAny(patterns []string, permission string) bool {
	for _, pattern := range patterns {
		if pm.Match(pattern, permission) {
			return true
		}
	}
	return false
}

// Validate checks a stored permission name: exactly three non-empty parts made of
// letters, digits, underscores or dashes. Wildcards are only valid as patterns.
func (pm *PermissionMatcher) Validate(permission string) error {
	if permission == "" {
		return NewError(ErrInvalidPermission, "permission cannot be empty")
	}

	parts := strings.Split(permission, ".")
	if len(parts) != 3 {
		return NewError(ErrInvalidPermission, "permission must follow module.model.action")
	}

	for _, part := range parts {
		if part == "" {
			return NewError(ErrInvalidPermission, "permission parts cannot be empty")
		}
		for _, c := range part {
			if !isValidPermissionChar(c) {
				return NewError(ErrInvalidPermission, "permission contains invalid character")
			}
		}
	}

	return nil
}

// ValidatePattern checks a grant pattern, which may use "*" for any part.
func (pm *PermissionMatcher) ValidatePattern(pattern string) error {
	if pattern == "*" {
		return nil
	}
	return pm.Validate(strings.ReplaceAll(pattern, "*", "x"))
}

func isValidPermissionChar(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '-'
}

// SplitPermissionName splits module.model.action. ok is false for malformed names.
func SplitPermissionName(name string) (module, model, action string, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// PermissionName joins the three parts of a permission name.
func PermissionName(module, model, action string) string {
	return module + "." + model + "." + action
}

// DefaultMatcher is the default permission matcher instance.
var DefaultMatcher = NewPermissionMatcher()

// ValidatePermissionName validates a stored permission name with the default matcher.
func ValidatePermissionName(name string) error {
	return DefaultMatcher.Validate(name)
}

// MatchPermission is a convenience function using the default matcher.
func MatchPermission(pattern, permission string) bool {
	return DefaultMatcher.Match(pattern, permission)
}

// MatchAnyPermission is a convenience function using the default matcher.
func MatchAnyPermission(patterns []string, permission string) bool {
	return DefaultMatcher.MatchAny(patterns, permission)
}
