package laraplate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// ============================================================================
// PERMISSION MANAGEMENT
// ============================================================================

// CreatePermission stores a new permission. An empty guard defaults to DefaultGuard.
//
// Example:
//
//	perm := &laraplate.Permission{Name: "core.invoices.select"}
//	err := service.CreatePermission(ctx, perm)
//	// perm.ID is set
func (s *Service) CreatePermission(ctx context.Context, p *Permission) error {
	if p.GuardName == "" {
		p.GuardName = DefaultGuard
	}
	if err := validateStruct(p, ErrInvalidPermission); err != nil {
		return err
	}

	exists, err := s.db.NewSelect().Model((*Permission)(nil)).Where("name = ?", p.Name).Exists(ctx)
	if err = dbkit.WithErr1(err, "CheckPermissionName").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to check permission name").WithCause(err)
	}
	if exists {
		return NewError(ErrInvalidPermission, fmt.Sprintf("permission %q already exists", p.Name)).
			WithField("name")
	}

	result, err := s.db.NewInsert().Model(p).Exec(ctx)
	err = dbkit.WithErr(result, err, "CreatePermission").Err()
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return NewError(ErrInvalidPermission, fmt.Sprintf("permission %q already exists", p.Name)).
				WithField("name").
				WithCause(err)
		}
		return NewError(ErrDatabaseError, "failed to create permission").WithCause(err)
	}

	s.logger.Info("permission created",
		zap.Int64("permission_id", p.ID),
		zap.String("name", p.Name),
		zap.String("guard", p.GuardName),
	)
	return nil
}

// GetPermission loads a permission by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	p := new(Permission)
	err := s.db.NewSelect().Model(p).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, s.permissionLookupError(err, id, "GetPermission")
	}
	return p, nil
}

// FindPermission loads a permission by name and guard. An empty guard means DefaultGuard.
func (s *Service) FindPermission(ctx context.Context, name, guard string) (*Permission, error) {
	if guard == "" {
		guard = DefaultGuard
	}
	p := new(Permission)
	err := s.db.NewSelect().Model(p).
		Where("name = ?", name).
		Where("guard_name = ?", guard).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrUnknownPermission, fmt.Sprintf("permission %q not found for guard %q", name, guard))
		}
		return nil, NewError(ErrDatabaseError, "failed to find permission").
			WithCause(dbkit.WithErr1(err, "FindPermission").Err())
	}
	return p, nil
}

// ListPermissions returns the permissions of a guard ordered by name. An empty guard
// returns every permission.
func (s *Service) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	var perms []Permission
	q := s.db.NewSelect().Model(&perms).OrderExpr("p.name ASC")
	if guard != "" {
		q = q.Where("p.guard_name = ?", guard)
	}
	if err := dbkit.WithErr1(q.Scan(ctx), "ListPermissions").Err(); err != nil {
		return nil, NewError(ErrDatabaseError, "failed to list permissions").WithCause(err)
	}
	return perms, nil
}

// UpdatePermission changes name, guard and description of a permission that no rule or
// role references yet.
func (s *Service) UpdatePermission(ctx context.Context, p *Permission) error {
	if p.GuardName == "" {
		p.GuardName = DefaultGuard
	}
	if err := validateStruct(p, ErrInvalidPermission); err != nil {
		return err
	}
	if err := s.ensurePermissionUnused(ctx, p.ID); err != nil {
		return err
	}

	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.NewUpdate().Model(p).
		Column("name", "guard_name", "description", "updated_at").
		WherePK().
		Exec(ctx)
	err = dbkit.WithErr(result, err, "UpdatePermission").Err()
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return NewError(ErrInvalidPermission, fmt.Sprintf("permission %q already exists", p.Name)).
				WithField("name").
				WithCause(err)
		}
		return NewError(ErrDatabaseError, "failed to update permission").WithPermission(p.ID).WithCause(err)
	}

	s.logger.Info("permission updated", zap.Int64("permission_id", p.ID), zap.String("name", p.Name))
	return nil
}

// DeletePermission removes a permission that no rule or role references.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	if err := s.ensurePermissionUnused(ctx, id); err != nil {
		return err
	}

	result, err := s.db.NewDelete().Model((*Permission)(nil)).Where("id = ?", id).Exec(ctx)
	err = dbkit.WithErr(result, err, "DeletePermission").Err()
	if err != nil {
		return NewError(ErrDatabaseError, "failed to delete permission").WithPermission(id).WithCause(err)
	}

	s.invalidate(ctx, id)
	s.logger.Info("permission deleted", zap.Int64("permission_id", id))
	return nil
}

// ============================================================================
// PERMISSION CHECKING
// ============================================================================

// HasPermission checks if a user holds a permission matching required through any of
// their roles. required may be a pattern such as "core.invoices.*".
//
// Example:
//
//	if service.HasPermission(ctx, userID, "core.invoices.select", laraplate.DefaultGuard) {
//	    // Apply the row-level rule next
//	}
func (s *Service) HasPermission(ctx context.Context, userID, required, guard string) bool {
	checker, err := s.GetChecker(ctx, userID, guard)
	if err != nil {
		return false
	}
	return checker.HasPermission(required)
}

// HasAnyPermission checks if a user holds any of the permissions.
func (s *Service) HasAnyPermission(ctx context.Context, userID string, required []string, guard string) bool {
	checker, err := s.GetChecker(ctx, userID, guard)
	if err != nil {
		return false
	}
	return checker.HasAnyPermission(required)
}

// ensurePermissionUnused returns ErrUnknownPermission for a missing permission and
// ErrPermissionInUse when a rule or a role references it.
func (s *Service) ensurePermissionUnused(ctx context.Context, id int64) error {
	if _, err := s.GetPermission(ctx, id); err != nil {
		return err
	}

	ruled, err := s.db.NewSelect().Model((*AclRule)(nil)).Where("permission_id = ?", id).Exists(ctx)
	if err = dbkit.WithErr1(err, "CheckPermissionRules").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to check permission usage").WithPermission(id).WithCause(err)
	}
	if ruled {
		return NewError(ErrPermissionInUse, "permission is bound to an acl rule").WithPermission(id)
	}

	granted, err := s.db.NewSelect().Model((*RolePermission)(nil)).Where("permission_id = ?", id).Exists(ctx)
	if err = dbkit.WithErr1(err, "CheckPermissionRoles").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to check permission usage").WithPermission(id).WithCause(err)
	}
	if granted {
		return NewError(ErrPermissionInUse, "permission is granted to a role").WithPermission(id)
	}
	return nil
}

func (s *Service) permissionLookupError(err error, id int64, op string) error {
	if isNoRows(err) {
		return NewError(ErrUnknownPermission, fmt.Sprintf("permission %d does not exist", id)).WithPermission(id)
	}
	return NewError(ErrDatabaseError, "failed to load permission").
		WithPermission(id).
		WithCause(dbkit.WithErr1(err, op).Err())
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || dbkit.IsNotFound(err)
}
