package laraplate

import (
	"context"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// QueryScoper narrows select queries per permission. Implemented by AclService.
type QueryScoper interface {
	ApplyAclToQuery(ctx context.Context, q *bun.SelectQuery, model Scopeable, permissionID int64) (*bun.SelectQuery, error)
	Scope(ctx context.Context, model Scopeable, permissionID int64) func(*bun.SelectQuery) *bun.SelectQuery
}

// ModelLocker guards writes against stale reads. Implemented by Locker.
type ModelLocker interface {
	Acquire(ctx context.Context, resource Resource, token string) (*LockHandle, error)
	IsStale(ctx context.Context, h *LockHandle) (bool, error)
	Renew(ctx context.Context, h *LockHandle) error
	Release(ctx context.Context, h *LockHandle) error
	WithLock(ctx context.Context, resource Resource, fn func(h *LockHandle) error) error
}

// PermissionChecker defines the coarse permission check interface.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, required, guard string) bool
	GetChecker(ctx context.Context, userID, guard string) (*Checker, error)
}

// TransactionManager defines the transaction management interface
type TransactionManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error
	ReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error
}

// MigrationManager defines the migration management interface
type MigrationManager interface {
	Migrations() []dbkit.Migration
}

// LockMonitor defines the lock monitoring interface
type LockMonitor interface {
	LockMetrics() LockMetrics
	ResetLockMetrics()
}

var (
	_ QueryScoper        = (*AclService)(nil)
	_ ModelLocker        = (*Locker)(nil)
	_ PermissionChecker  = (*Service)(nil)
	_ TransactionManager = (*Service)(nil)
	_ MigrationManager   = (*Service)(nil)
	_ LockMonitor        = (*Metrics)(nil)
	_ RuleStore          = (*DBRuleStore)(nil)
	_ RuleInvalidator    = (*CachedRuleStore)(nil)
	_ RuleInvalidator    = (*RedisRuleStore)(nil)
)
