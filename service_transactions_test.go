package laraplate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServiceTransactionCommitRollback tests that writes through tx commit or roll back together
func TestServiceTransactionCommitRollback(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	errAbort := errors.New("abort")
	err := svc.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		perm := &Permission{Name: "core.invoices.select"}
		if err := tx.CreatePermission(ctx, perm); err != nil {
			return err
		}
		if err := tx.CreateRule(ctx, &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", 42)}, (*testInvoice)(nil)); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	_, err = svc.FindPermission(ctx, "core.invoices.select", "")
	assert.True(t, IsUnknownPermission(err), "rolled back")

	var permID int64
	err = svc.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		perm := &Permission{Name: "core.invoices.select"}
		if err := tx.CreatePermission(ctx, perm); err != nil {
			return err
		}
		permID = perm.ID
		return tx.CreateRule(ctx, &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", 42)}, (*testInvoice)(nil))
	})
	require.NoError(t, err)

	res := svc.ListRules(ctx, NewRuleListFilter().WithPermission(permID))
	require.Empty(t, res.Error)
	assert.Equal(t, 1, *res.Meta.TotalRecords)
}

// TestServiceTransactionScopesWithOwnWrites tests that the acl of tx reads rules written in tx
func TestServiceTransactionScopesWithOwnWrites(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedInvoice(t, db, &testInvoice{TenantID: 42, Name: "mine"})
	seedInvoice(t, db, &testInvoice{TenantID: 99, Name: "theirs"})

	err := svc.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		perm := &Permission{Name: "core.invoices.select"}
		require.NoError(t, tx.CreatePermission(ctx, perm))
		require.NoError(t, tx.CreateRule(ctx, &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", 42)}, (*testInvoice)(nil)))

		var invoices []testInvoice
		q, err := tx.Acl().ApplyAclToQuery(ctx, tx.DB().NewSelect().Model(&invoices), (*testInvoice)(nil), perm.ID)
		require.NoError(t, err)
		require.NoError(t, q.Scan(ctx))
		require.Len(t, invoices, 1)
		assert.Equal(t, "mine", invoices[0].Name)

		// Nested calls join the outer transaction.
		return tx.Transaction(ctx, func(ctx context.Context, inner *Service) error {
			assert.Same(t, tx, inner)
			return nil
		})
	})
	require.NoError(t, err)
}

// TestServiceTransactionDefersInvalidation tests that cached rules are dropped on commit only
func TestServiceTransactionDefersInvalidation(t *testing.T) {
	db := newTestDB(t)
	cache := NewCachedRuleStore(NewDBRuleStore(db), 16, time.Minute)
	svc := NewService(newTestRegistry(), db, WithRuleStore(cache))
	ctx := context.Background()

	perm := seedPermission(t, svc, "core.invoices.select")
	rule := &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", 42)}
	require.NoError(t, svc.CreateRule(ctx, rule, (*testInvoice)(nil)))

	lookup, err := cache.Lookup(ctx, perm.ID)
	require.NoError(t, err)
	require.True(t, lookup.HasRule())

	errAbort := errors.New("abort")
	err = svc.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		require.NoError(t, tx.DeleteRule(ctx, rule.ID))

		lookup, err := cache.Lookup(ctx, perm.ID)
		require.NoError(t, err)
		assert.True(t, lookup.HasRule(), "cache is untouched until commit")
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	hits := cache.Stats().Hits
	lookup, err = cache.Lookup(ctx, perm.ID)
	require.NoError(t, err)
	assert.True(t, lookup.HasRule())
	assert.Equal(t, hits+1, cache.Stats().Hits, "rollback keeps the cached entry")

	err = svc.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		return tx.DeleteRule(ctx, rule.ID)
	})
	require.NoError(t, err)

	misses := cache.Stats().Misses
	lookup, err = cache.Lookup(ctx, perm.ID)
	require.NoError(t, err)
	assert.False(t, lookup.HasRule())
	assert.Equal(t, misses+1, cache.Stats().Misses, "commit dropped the cached entry")
}

// TestServiceTransactionLocker tests that the locker of tx runs on the transaction
func TestServiceTransactionLocker(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		assert.NotSame(t, svc.Locker(), tx.Locker())
		assert.Same(t, svc.Registry(), tx.Registry())
		assert.NotEqual(t, svc.DB(), tx.DB())
		return nil
	})
	require.NoError(t, err)
}

// TestNewService tests construction and accessors
func TestNewService(t *testing.T) {
	registry := newTestRegistry()
	metrics, err := NewMetrics(nil)
	require.NoError(t, err)

	svc := NewService(registry, nil, WithMetrics(metrics), WithLogger(nil))
	assert.Same(t, registry, svc.Registry())
	assert.Same(t, metrics, svc.Metrics())
	assert.NotNil(t, svc.Acl())
	assert.NotNil(t, svc.Locker())
	assert.Nil(t, svc.DB())

	store := newStaticRuleStore()
	svc = NewService(registry, nil, WithRuleStore(store))
	assert.Nil(t, svc.Metrics())
	assert.Same(t, store, svc.rules)
}
