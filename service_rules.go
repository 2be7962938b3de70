package laraplate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ============================================================================
// ACL RULE MANAGEMENT
// ============================================================================

// CreateRule binds a new rule to a permission. The rule is validated against model so
// a bad field or direction is rejected here rather than on the first scoped query.
//
// Example:
//
//	rule := &laraplate.AclRule{
//	    PermissionID: perm.ID,
//	    Filters:      laraplate.P("tenant_id", 42),
//	    Sort:         laraplate.P("name", "asc"),
//	}
//	err := service.CreateRule(ctx, rule, (*Invoice)(nil))
func (s *Service) CreateRule(ctx context.Context, rule *AclRule, model Scopeable) error {
	if err := s.prepareRule(rule, model); err != nil {
		return err
	}
	if _, err := s.GetPermission(ctx, rule.PermissionID); err != nil {
		return err
	}
	if err := s.ensureNoRule(ctx, rule.PermissionID, 0); err != nil {
		return err
	}

	result, err := s.db.NewInsert().Model(rule).Exec(ctx)
	err = dbkit.WithErr(result, err, "CreateAclRule").Err()
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return NewError(ErrRuleAlreadyExists, "permission already has an acl rule").
				WithPermission(rule.PermissionID).
				WithCause(err)
		}
		return NewError(ErrDatabaseError, "failed to create acl rule").
			WithPermission(rule.PermissionID).
			WithCause(err)
	}

	s.invalidate(ctx, rule.PermissionID)
	s.logger.Info("acl rule created",
		zap.Int64("rule_id", rule.ID),
		zap.Int64("permission_id", rule.PermissionID),
		zap.String("model", model.ACLModel()),
		zap.Stringer("filters", rule.Filters),
	)
	return nil
}

// UpdateRule replaces filters, sort, description and possibly the bound permission of
// an existing rule.
func (s *Service) UpdateRule(ctx context.Context, rule *AclRule, model Scopeable) error {
	if err := s.prepareRule(rule, model); err != nil {
		return err
	}

	current, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	if current.PermissionID != rule.PermissionID {
		if _, err := s.GetPermission(ctx, rule.PermissionID); err != nil {
			return err
		}
		if err := s.ensureNoRule(ctx, rule.PermissionID, rule.ID); err != nil {
			return err
		}
	}

	rule.UpdatedAt = time.Now().UTC()
	result, err := s.db.NewUpdate().Model(rule).
		Column("permission_id", "filters", "sort", "description", "updated_at").
		WherePK().
		Exec(ctx)
	err = dbkit.WithErr(result, err, "UpdateAclRule").Err()
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return NewError(ErrRuleAlreadyExists, "permission already has an acl rule").
				WithPermission(rule.PermissionID).
				WithCause(err)
		}
		return NewError(ErrDatabaseError, "failed to update acl rule").
			WithPermission(rule.PermissionID).
			WithCause(err)
	}

	s.invalidate(ctx, current.PermissionID)
	if current.PermissionID != rule.PermissionID {
		s.invalidate(ctx, rule.PermissionID)
	}
	s.logger.Info("acl rule updated",
		zap.Int64("rule_id", rule.ID),
		zap.Int64("permission_id", rule.PermissionID),
		zap.String("model", model.ACLModel()),
	)
	return nil
}

// DeleteRule removes a rule. Its permission becomes unrestricted at row level.
func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	current, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}

	result, err := s.db.NewDelete().Model((*AclRule)(nil)).Where("id = ?", id).Exec(ctx)
	if err = dbkit.WithErr(result, err, "DeleteAclRule").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to delete acl rule").
			WithPermission(current.PermissionID).
			WithCause(err)
	}

	s.invalidate(ctx, current.PermissionID)
	s.logger.Info("acl rule deleted", zap.Int64("rule_id", id), zap.Int64("permission_id", current.PermissionID))
	return nil
}

// GetRule loads a rule by id.
func (s *Service) GetRule(ctx context.Context, id int64) (*AclRule, error) {
	rule := new(AclRule)
	err := s.db.NewSelect().Model(rule).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrRuleNotFound, fmt.Sprintf("acl rule %d does not exist", id))
		}
		return nil, NewError(ErrDatabaseError, "failed to load acl rule").
			WithCause(dbkit.WithErr1(err, "GetAclRule").Err())
	}
	return rule, nil
}

// ListRules returns one page of rules ordered by id, wrapped in a CrudResult.
func (s *Service) ListRules(ctx context.Context, filter RuleListFilter) CrudResult {
	var rules []AclRule
	q := s.db.NewSelect().Model(&rules).OrderExpr("acl.id ASC")

	if filter.PermissionID > 0 {
		q = q.Where("acl.permission_id = ?", filter.PermissionID)
	}
	if filter.PermissionPrefix != "" || filter.Guard != "" {
		q = q.Where("EXISTS (?)", s.permissionSubquery(filter))
	}

	res := Paginate(ctx, q, filter.Page, filter.PerPage, &rules)
	if res.Meta != nil {
		res.Meta.WithSource("AclRule", "acls")
	}
	return res
}

func (s *Service) permissionSubquery(filter RuleListFilter) *bun.SelectQuery {
	sub := s.db.NewSelect().
		TableExpr("permissions AS perm").
		ColumnExpr("1").
		Where("perm.id = acl.permission_id")
	if filter.PermissionPrefix != "" {
		sub = sub.Where("perm.name LIKE ? ESCAPE '!'", escapeLike(filter.PermissionPrefix)+"%")
	}
	if filter.Guard != "" {
		sub = sub.Where("perm.guard_name = ?", filter.Guard)
	}
	return sub
}

func (s *Service) prepareRule(rule *AclRule, model Scopeable) error {
	if rule == nil {
		return NewError(ErrInvalidRule, "rule is nil")
	}
	if err := ValidateRule(s.registry, rule, model); err != nil {
		return err
	}
	// Store directions normalized.
	for i, pair := range rule.Sort {
		dir, _ := NormalizeSortDirection(pair.Value.(string))
		rule.Sort[i].Value = dir
	}
	return nil
}

// ensureNoRule fails with ErrRuleAlreadyExists when another rule than exceptID is bound
// to permissionID.
func (s *Service) ensureNoRule(ctx context.Context, permissionID, exceptID int64) error {
	q := s.db.NewSelect().Model((*AclRule)(nil)).Where("permission_id = ?", permissionID)
	if exceptID > 0 {
		q = q.Where("id <> ?", exceptID)
	}
	exists, err := q.Exists(ctx)
	if err = dbkit.WithErr1(err, "CheckAclRule").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to check acl rule").WithPermission(permissionID).WithCause(err)
	}
	if exists {
		return NewError(ErrRuleAlreadyExists, "permission already has an acl rule").WithPermission(permissionID)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
