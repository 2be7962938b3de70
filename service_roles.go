package laraplate

import (
	"context"
	"fmt"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// ============================================================================
// ROLE MANAGEMENT
// ============================================================================

// CreateRole stores a new role. Names are unique per guard.
//
// Example:
//
//	role := &laraplate.Role{Name: "accountant"}
//	err := service.CreateRole(ctx, role)
func (s *Service) CreateRole(ctx context.Context, r *Role) error {
	if r.GuardName == "" {
		r.GuardName = DefaultGuard
	}
	if err := validateStruct(r, ErrInvalidRole); err != nil {
		return err
	}

	exists, err := s.db.NewSelect().Model((*Role)(nil)).
		Where("name = ?", r.Name).
		Where("guard_name = ?", r.GuardName).
		Exists(ctx)
	if err = dbkit.WithErr1(err, "CheckRoleName").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to check role name").WithCause(err)
	}
	if exists {
		return NewError(ErrInvalidRole, fmt.Sprintf("role %q already exists for guard %q", r.Name, r.GuardName)).
			WithField("name")
	}

	result, err := s.db.NewInsert().Model(r).Exec(ctx)
	err = dbkit.WithErr(result, err, "CreateRole").Err()
	if err != nil {
		return NewError(ErrDatabaseError, "failed to create role").WithCause(err)
	}

	s.logger.Info("role created", zap.Int64("role_id", r.ID), zap.String("name", r.Name))
	return nil
}

// GetRole loads a role with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (*Role, error) {
	r := new(Role)
	err := s.db.NewSelect().Model(r).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrRoleNotFound, fmt.Sprintf("role %d does not exist", id))
		}
		return nil, NewError(ErrDatabaseError, "failed to load role").
			WithCause(dbkit.WithErr1(err, "GetRole").Err())
	}

	perms, err := s.rolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Permissions = perms
	return r, nil
}

// ListRoles returns all roles of a guard ordered by name, without their permissions.
// An empty guard returns every role.
func (s *Service) ListRoles(ctx context.Context, guard string) ([]Role, error) {
	var roles []Role
	q := s.db.NewSelect().Model(&roles).OrderExpr("r.name ASC")
	if guard != "" {
		q = q.Where("r.guard_name = ?", guard)
	}
	if err := dbkit.WithErr1(q.Scan(ctx), "ListRoles").Err(); err != nil {
		return nil, NewError(ErrDatabaseError, "failed to list roles").WithCause(err)
	}
	return roles, nil
}

// DeleteRole removes a role together with its grants and user assignments.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if _, err := s.GetRole(ctx, id); err != nil {
		return err
	}

	return s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		result, err := tx.db.NewDelete().Model((*RolePermission)(nil)).Where("role_id = ?", id).Exec(ctx)
		if err = dbkit.WithErr(result, err, "DeleteRoleGrants").Err(); err != nil {
			return NewError(ErrDatabaseError, "failed to delete role grants").WithCause(err)
		}
		result, err = tx.db.NewDelete().Model((*UserRole)(nil)).Where("role_id = ?", id).Exec(ctx)
		if err = dbkit.WithErr(result, err, "DeleteRoleAssignments").Err(); err != nil {
			return NewError(ErrDatabaseError, "failed to delete role assignments").WithCause(err)
		}
		result, err = tx.db.NewDelete().Model((*Role)(nil)).Where("id = ?", id).Exec(ctx)
		if err = dbkit.WithErr(result, err, "DeleteRole").Err(); err != nil {
			return NewError(ErrDatabaseError, "failed to delete role").WithCause(err)
		}
		tx.logger.Info("role deleted", zap.Int64("role_id", id))
		return nil
	})
}

// ============================================================================
// GRANTS
// ============================================================================

// GrantPermission gives a role a permission of the same guard. Granting twice is a no-op.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	perm, err := s.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	if role.GuardName != perm.GuardName {
		return NewError(ErrInvalidPermission,
			fmt.Sprintf("permission guard %q does not match role guard %q", perm.GuardName, role.GuardName)).
			WithPermission(permissionID)
	}

	grant := &RolePermission{RoleID: roleID, PermissionID: permissionID}
	result, err := s.db.NewInsert().Model(grant).On("CONFLICT DO NOTHING").Exec(ctx)
	if err = dbkit.WithErr(result, err, "GrantPermission").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to grant permission").WithPermission(permissionID).WithCause(err)
	}

	s.logger.Info("permission granted",
		zap.Int64("role_id", roleID),
		zap.Int64("permission_id", permissionID),
	)
	return nil
}

// RevokePermission removes a permission from a role. Revoking a missing grant is a no-op.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	result, err := s.db.NewDelete().Model((*RolePermission)(nil)).
		Where("role_id = ?", roleID).
		Where("permission_id = ?", permissionID).
		Exec(ctx)
	if err = dbkit.WithErr(result, err, "RevokePermission").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to revoke permission").WithPermission(permissionID).WithCause(err)
	}

	s.logger.Info("permission revoked",
		zap.Int64("role_id", roleID),
		zap.Int64("permission_id", permissionID),
	)
	return nil
}

// ============================================================================
// USER ASSIGNMENTS
// ============================================================================

// AssignRole gives a user a role. Assigning twice is a no-op.
//
// Example:
//
//	err := service.AssignRole(ctx, userID, accountant.ID)
func (s *Service) AssignRole(ctx context.Context, userID string, roleID int64) error {
	if userID == "" {
		return ErrNoUserID
	}
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	assignment := &UserRole{UserID: userID, RoleID: roleID}
	result, err := s.db.NewInsert().Model(assignment).On("CONFLICT DO NOTHING").Exec(ctx)
	if err = dbkit.WithErr(result, err, "AssignRole").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to assign role").WithCause(err)
	}

	s.logger.Info("role assigned", zap.String("user_id", userID), zap.Int64("role_id", roleID))
	return nil
}

// RevokeRole removes a role from a user. Revoking a missing assignment is a no-op.
func (s *Service) RevokeRole(ctx context.Context, userID string, roleID int64) error {
	result, err := s.db.NewDelete().Model((*UserRole)(nil)).
		Where("user_id = ?", userID).
		Where("role_id = ?", roleID).
		Exec(ctx)
	if err = dbkit.WithErr(result, err, "RevokeRole").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to revoke role").WithCause(err)
	}

	s.logger.Info("role revoked", zap.String("user_id", userID), zap.Int64("role_id", roleID))
	return nil
}
