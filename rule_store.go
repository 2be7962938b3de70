package laraplate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// RuleStore resolves a permission id to its ACL rule. Implementations return an
// ErrUnknownPermission error when the permission does not exist and a lookup without
// rule when the permission exists but carries no row restriction.
type RuleStore interface {
	Lookup(ctx context.Context, permissionID int64) (RuleLookup, error)
}

// RuleInvalidator is implemented by caching stores.
type RuleInvalidator interface {
	Invalidate(ctx context.Context, permissionID int64) error
}

// DBRuleStore reads rules straight from the acls table.
type DBRuleStore struct {
	db bun.IDB
}

// NewDBRuleStore creates a store over db.
func NewDBRuleStore(db bun.IDB) *DBRuleStore {
	return &DBRuleStore{db: db}
}

// Lookup implements RuleStore.
func (s *DBRuleStore) Lookup(ctx context.Context, permissionID int64) (RuleLookup, error) {
	exists, err := s.db.NewSelect().
		Model((*Permission)(nil)).
		Where("id = ?", permissionID).
		Exists(ctx)
	if err = dbkit.WithErr1(err, "LookupPermission").Err(); err != nil {
		return RuleLookup{}, NewError(ErrDatabaseError, "failed to look up permission").
			WithPermission(permissionID).
			WithCause(err)
	}
	if !exists {
		return RuleLookup{}, NewError(ErrUnknownPermission, fmt.Sprintf("permission %d does not exist", permissionID)).
			WithPermission(permissionID)
	}

	rule := new(AclRule)
	err = s.db.NewSelect().
		Model(rule).
		Where("permission_id = ?", permissionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RuleLookup{PermissionID: permissionID}, nil
		}
		err = dbkit.WithErr1(err, "LookupAclRule").Err()
		if dbkit.IsNotFound(err) {
			return RuleLookup{PermissionID: permissionID}, nil
		}
		return RuleLookup{}, NewError(ErrDatabaseError, "failed to look up acl rule").
			WithPermission(permissionID).
			WithCause(err)
	}

	return RuleLookup{PermissionID: permissionID, Rule: rule}, nil
}
