package laraplate

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupIntegration prepares the schema plus the invoice tables used by the scenarios.
func setupIntegration(t *testing.T) (*Service, context.Context) {
	t.Helper()
	if !RequireDatabase(t) {
		return nil, nil
	}

	ctx := context.Background()
	svc, db := SetupTestDatabase(ctx, t)

	for _, model := range []any{(*testInvoice)(nil), (*testCustomer)(nil)} {
		_, err := db.Bun().NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}
	return svc, ctx
}

// uniqueAction keeps permission names unique across runs on a shared database.
func uniqueAction() string {
	return "a" + uuid.NewString()[:8]
}

func TestIntegrationMigrationsIdempotent(t *testing.T) {
	if !RequireDatabase(t) {
		return
	}
	ctx := context.Background()
	_, db := SetupTestDatabase(ctx, t)

	applied, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, applied, "second run applies nothing")

	status := db.Health(ctx)
	assert.True(t, status.Healthy)
}

func TestIntegrationAclScenario(t *testing.T) {
	svc, ctx := setupIntegration(t)
	if svc == nil {
		return
	}

	tenant := int64(uuid.New().ID())
	perm := seedPermission(t, svc, "core.invoices."+uniqueAction())
	require.NoError(t, svc.CreateRule(ctx, &AclRule{
		PermissionID: perm.ID,
		Filters:      P("tenant_id", tenant, "archived_at", nil),
		Sort:         P("name", "desc"),
	}, (*testInvoice)(nil)))

	db := svc.DB()
	seedInvoice(t, db, &testInvoice{TenantID: tenant, Name: "alpha"})
	seedInvoice(t, db, &testInvoice{TenantID: tenant, Name: "beta"})
	seedInvoice(t, db, &testInvoice{TenantID: tenant + 1, Name: "other"})

	var invoices []testInvoice
	q, err := svc.Acl().ApplyAclToQuery(ctx, db.NewSelect().Model(&invoices), (*testInvoice)(nil), perm.ID)
	require.NoError(t, err)
	require.NoError(t, q.Scan(ctx))

	require.Len(t, invoices, 2)
	assert.Equal(t, "beta", invoices[0].Name)
	assert.Equal(t, "alpha", invoices[1].Name)

	_, err = svc.Acl().ApplyAclToQuery(ctx, db.NewSelect().Model(&invoices), (*testInvoice)(nil), -1)
	assert.True(t, IsUnknownPermission(err))
}

func TestIntegrationLockScenario(t *testing.T) {
	svc, ctx := setupIntegration(t)
	if svc == nil {
		return
	}

	inv := seedInvoice(t, svc.DB(), &testInvoice{TenantID: 1, Name: "draft"})

	locker := svc.Locker()
	first, err := locker.Acquire(ctx, ResourceOf(inv), "first")
	require.NoError(t, err)
	second, err := locker.Acquire(ctx, ResourceOf(inv), "second")
	require.NoError(t, err)

	require.NoError(t, first.Stage("name", "first"))
	require.NoError(t, locker.Release(ctx, first))

	require.NoError(t, second.Stage("name", "second"))
	err = locker.Release(ctx, second)
	assert.True(t, IsStaleModelLocking(err))

	stored := new(testInvoice)
	require.NoError(t, svc.DB().NewSelect().Model(stored).Where("id = ?", inv.ID).Scan(ctx))
	assert.Equal(t, "first", stored.Name)
	assert.Equal(t, inv.LockVersion+1, stored.LockVersion)
}
