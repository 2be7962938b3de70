package laraplate

import (
	"time"

	"github.com/uptrace/bun"
)

// DefaultGuard is the guard used when none is given.
const DefaultGuard = "web"

// Permission is a coarse-grained capability named module.model.action.
// Once a rule or a role references it the permission is read-only.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	Name        string    `bun:"name,notnull,unique" json:"name" validate:"required,max=255,permission_name"`
	GuardName   string    `bun:"guard_name,notnull" json:"guard_name" validate:"required,max=64"`
	Description *string   `bun:"description" json:"description,omitempty"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// Parts splits the permission name into module, model and action.
func (p *Permission) Parts() (module, model, action string) {
	module, model, action, _ = SplitPermissionName(p.Name)
	return module, model, action
}

// Role is a named set of permissions. Users hold roles through user_has_roles.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID          int64         `bun:"id,pk,autoincrement" json:"id"`
	Name        string        `bun:"name,notnull" json:"name" validate:"required,max=255"`
	GuardName   string        `bun:"guard_name,notnull" json:"guard_name" validate:"required,max=64"`
	Description *string       `bun:"description" json:"description,omitempty"`
	Permissions []*Permission `bun:"-" json:"permissions,omitempty"`
	CreatedAt   time.Time     `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time     `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// RolePermission is the role_has_permissions pivot.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_has_permissions,alias:rhp"`

	RoleID       int64 `bun:"role_id,pk"`
	PermissionID int64 `bun:"permission_id,pk"`
}

// UserRole is the user_has_roles pivot. Users live outside this package, only their
// identifier is stored.
type UserRole struct {
	bun.BaseModel `bun:"table:user_has_roles,alias:uhr"`

	UserID string `bun:"user_id,pk"`
	RoleID int64  `bun:"role_id,pk"`
}

// AclRule narrows the rows a permission grants access to.
// There is at most one rule per permission.
type AclRule struct {
	bun.BaseModel `bun:"table:acls,alias:acl"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	PermissionID int64     `bun:"permission_id,notnull,unique" json:"permission_id" validate:"required,gt=0"`
	Filters      Pairs     `bun:"filters,type:text,notnull" json:"filters" validate:"required,min=1"`
	Sort         Pairs     `bun:"sort,type:text" json:"sort,omitempty"`
	Description  *string   `bun:"description" json:"description,omitempty"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// RuleLookup is the result of resolving a permission id to its rule.
// Rule is nil when the permission exists but carries no row restriction.
type RuleLookup struct {
	PermissionID int64    `json:"permission_id"`
	Rule         *AclRule `json:"rule,omitempty"`
}

// HasRule reports whether the lookup produced a rule.
func (l RuleLookup) HasRule() bool {
	return l.Rule != nil
}

// StringPtr returns a pointer to s, nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
