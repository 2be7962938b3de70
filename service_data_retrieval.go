package laraplate

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// ============================================================================
// DATA RETRIEVAL
// ============================================================================

// GetUserRoles retrieves the roles assigned to a user, ordered by name.
func (s *Service) GetUserRoles(ctx context.Context, userID string) ([]Role, error) {
	var roles []Role
	err := s.db.NewSelect().Model(&roles).
		Join("JOIN user_has_roles AS uhr ON uhr.role_id = r.id").
		Where("uhr.user_id = ?", userID).
		OrderExpr("r.name ASC").
		Scan(ctx)
	if err = dbkit.WithErr1(err, "GetUserRoles").Err(); err != nil {
		return nil, NewError(ErrDatabaseError, "failed to load user roles").WithCause(err)
	}
	return roles, nil
}

// GetUserPermissions retrieves every permission a user holds through their roles for
// one guard, without duplicates, ordered by name. An empty guard means DefaultGuard.
func (s *Service) GetUserPermissions(ctx context.Context, userID, guard string) ([]*Permission, error) {
	if guard == "" {
		guard = DefaultGuard
	}

	var perms []*Permission
	err := s.db.NewSelect().Model(&perms).
		Where("p.guard_name = ?", guard).
		Where("EXISTS (SELECT 1 FROM role_has_permissions AS rhp JOIN user_has_roles AS uhr ON uhr.role_id = rhp.role_id WHERE rhp.permission_id = p.id AND uhr.user_id = ?)", userID).
		OrderExpr("p.name ASC").
		Scan(ctx)
	if err = dbkit.WithErr1(err, "GetUserPermissions").Err(); err != nil {
		return nil, NewError(ErrDatabaseError, "failed to load user permissions").WithCause(err)
	}
	return perms, nil
}

// GetChecker creates a Checker for a user and guard.
// This can be stored in context for efficient permission checking in handlers.
func (s *Service) GetChecker(ctx context.Context, userID, guard string) (*Checker, error) {
	if userID == "" {
		return nil, ErrNoUserID
	}
	if guard == "" {
		guard = DefaultGuard
	}
	perms, err := s.GetUserPermissions(ctx, userID, guard)
	if err != nil {
		return nil, err
	}
	return NewChecker(userID, guard, perms), nil
}

// GetCheckerFromContext creates a Checker using the user ID from context.
func (s *Service) GetCheckerFromContext(ctx context.Context, guard string) (*Checker, error) {
	userID := GetUserID(ctx)
	if userID == "" {
		return nil, ErrNoUserID
	}
	return s.GetChecker(ctx, userID, guard)
}

func (s *Service) rolePermissions(ctx context.Context, roleID int64) ([]*Permission, error) {
	var perms []*Permission
	err := s.db.NewSelect().Model(&perms).
		Join("JOIN role_has_permissions AS rhp ON rhp.permission_id = p.id").
		Where("rhp.role_id = ?", roleID).
		OrderExpr("p.name ASC").
		Scan(ctx)
	if err = dbkit.WithErr1(err, "GetRolePermissions").Err(); err != nil {
		return nil, NewError(ErrDatabaseError, "failed to load role permissions").WithCause(err)
	}
	return perms, nil
}
