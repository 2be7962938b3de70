package laraplate

import "sort"

// Checker answers permission questions for one user and guard from a snapshot of the
// permissions their roles grant. It is typically created by the Service and stored in
// context for use in handlers.
//
// Required permissions may be patterns: "core.invoices.*" is satisfied by any invoice
// permission the user holds, "*" by any permission at all.
type Checker struct {
	userID      string
	guard       string
	permissions []string
	ids         map[string]int64
}

// NewChecker creates a new Checker from the permissions granted to a user.
func NewChecker(userID, guard string, permissions []*Permission) *Checker {
	c := &Checker{
		userID: userID,
		guard:  guard,
		ids:    make(map[string]int64, len(permissions)),
	}
	for _, p := range permissions {
		if _, seen := c.ids[p.Name]; seen {
			continue
		}
		c.ids[p.Name] = p.ID
		c.permissions = append(c.permissions, p.Name)
	}
	sort.Strings(c.permissions)
	return c
}

// UserID returns the user ID this checker is for.
func (c *Checker) UserID() string {
	return c.userID
}

// Guard returns the guard the permissions were loaded for.
func (c *Checker) Guard() string {
	return c.guard
}

// HasPermission checks if the user holds a permission matching required.
//
// Example:
//
//	if checker.HasPermission("core.invoices.select") {
//	    // User can list invoices, the ACL rule decides which ones
//	}
func (c *Checker) HasPermission(required string) bool {
	for _, held := range c.permissions {
		if MatchPermission(required, held) {
			return true
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the specified permissions.
func (c *Checker) HasAnyPermission(required []string) bool {
	for _, held := range c.permissions {
		if MatchAnyPermission(required, held) {
			return true
		}
	}
	return false
}

// HasAllPermissions checks if the user has all of the specified permissions.
func (c *Checker) HasAllPermissions(required []string) bool {
	for _, perm := range required {
		if !c.HasPermission(perm) {
			return false
		}
	}
	return true
}

// PermissionID returns the id of a held permission by exact name. The id is what
// ApplyAclToQuery expects.
func (c *Checker) PermissionID(name string) (int64, bool) {
	id, ok := c.ids[name]
	return id, ok
}

// ResolvePermission returns the id of the held permission that satisfies required.
// An exact name wins; for a pattern it is the first matching held permission in name
// order, so the choice is stable across requests.
func (c *Checker) ResolvePermission(required string) (int64, bool) {
	if id, ok := c.ids[required]; ok {
		return id, true
	}
	for _, held := range c.permissions {
		if MatchPermission(required, held) {
			return c.ids[held], true
		}
	}
	return 0, false
}

// GetPermissions returns the names of all held permissions, sorted.
func (c *Checker) GetPermissions() []string {
	out := make([]string, len(c.permissions))
	copy(out, c.permissions)
	return out
}

// IsEmpty returns true if the user holds no permission.
func (c *Checker) IsEmpty() bool {
	return len(c.permissions) == 0
}
