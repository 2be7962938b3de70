package laraplate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestContextUserID tests user ID storage in context
func TestContextUserID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetUserID(ctx))

	ctx = WithUserID(ctx, "user-1")
	assert.Equal(t, "user-1", GetUserID(ctx))

	ctx = WithUserID(ctx, "user-2")
	assert.Equal(t, "user-2", GetUserID(ctx))
}

// TestContextRequestID tests request ID storage in context
func TestContextRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
}

// TestContextKeysDoNotCollide tests that foreign string keys are not read back
func TestContextKeysDoNotCollide(t *testing.T) {
	ctx := context.WithValue(context.Background(), "laraplate:user_id", "intruder")
	assert.Empty(t, GetUserID(ctx))
}

// TestContextChecker tests Checker storage in context
func TestContextChecker(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetChecker(ctx))

	checker := NewChecker("user-1", DefaultGuard, nil)
	ctx = WithChecker(ctx, checker)
	assert.Same(t, checker, GetChecker(ctx))
}

// TestContextPermissionAclLocker tests the row-level values stored by the middleware
func TestContextPermissionAclLocker(t *testing.T) {
	ctx := context.Background()

	_, ok := PermissionFromContext(ctx)
	assert.False(t, ok)
	assert.Nil(t, AclFromContext(ctx))
	assert.Nil(t, LockerFromContext(ctx))

	registry := newTestRegistry()
	acl := NewAclService(registry, newStaticRuleStore())
	locker := NewLocker(nil, registry)

	ctx = WithPermissionID(ctx, 7)
	ctx = WithAcl(ctx, acl)
	ctx = WithLocker(ctx, locker)

	id, ok := PermissionFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Same(t, acl, AclFromContext(ctx))
	assert.Same(t, locker, LockerFromContext(ctx))
}

// TestScopeFromContext tests scoping with the values found in context
func TestScopeFromContext(t *testing.T) {
	db := newShapeDB(t)
	rule := &AclRule{PermissionID: 7, Filters: P("tenant_id", 42)}
	acl := NewAclService(newTestRegistry(), newStaticRuleStore().withRule(rule))

	t.Run("scoped", func(t *testing.T) {
		ctx := WithAcl(WithPermissionID(context.Background(), 7), acl)
		q := db.NewSelect().Model((*testInvoice)(nil)).Apply(ScopeFromContext(ctx, (*testInvoice)(nil)))
		assert.Contains(t, q.String(), `"invoice"."tenant_id" = 42`)
	})

	t.Run("missing permission", func(t *testing.T) {
		svc, sqlite := newTestService(t)
		ctx := WithAcl(context.Background(), svc.Acl())

		var invoices []testInvoice
		err := sqlite.NewSelect().Model(&invoices).
			Apply(ScopeFromContext(ctx, (*testInvoice)(nil))).
			Scan(ctx)
		require.Error(t, err)
		assert.True(t, IsUnauthorized(err))
	})

	t.Run("missing acl", func(t *testing.T) {
		sqlite := newTestDB(t)
		ctx := WithPermissionID(context.Background(), 7)

		var invoices []testInvoice
		err := sqlite.NewSelect().Model(&invoices).
			Apply(ScopeFromContext(ctx, (*testInvoice)(nil))).
			Scan(ctx)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}
