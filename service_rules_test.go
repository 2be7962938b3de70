package laraplate

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServiceCreateRule tests rule creation and its validation
func TestServiceCreateRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	perm := seedPermission(t, svc, "core.invoices.select")

	rule := &AclRule{
		PermissionID: perm.ID,
		Filters:      P("tenant_id", 42),
		Sort:         P("name", " ASC ", "created_at", "Desc"),
		Description:  StringPtr("own tenant"),
	}
	require.NoError(t, svc.CreateRule(ctx, rule, (*testInvoice)(nil)))
	assert.NotZero(t, rule.ID)

	stored, err := svc.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, perm.ID, stored.PermissionID)
	assert.Equal(t, []string{"name", "created_at"}, stored.Sort.Fields())
	dir, _ := stored.Sort.Get("name")
	assert.Equal(t, "asc", dir)
	dir, _ = stored.Sort.Get("created_at")
	assert.Equal(t, "desc", dir)

	tests := []struct {
		name    string
		rule    *AclRule
		wantErr error
	}{
		{"nil rule", nil, ErrInvalidRule},
		{"duplicate", &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", 1)}, ErrRuleAlreadyExists},
		{"unknown permission", &AclRule{PermissionID: 9999, Filters: P("tenant_id", 1)}, ErrUnknownPermission},
		{"unknown field", &AclRule{PermissionID: perm.ID, Filters: P("secret", 1)}, ErrInvalidFilterField},
		{"bad direction", &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", 1), Sort: P("name", "up")}, ErrInvalidSortDirection},
		{"no filters", &AclRule{PermissionID: perm.ID}, ErrInvalidRule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CreateRule(ctx, tt.rule, (*testInvoice)(nil))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// TestServiceUpdateRule tests rule updates including moving the rule to another permission
func TestServiceUpdateRule(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	selectPerm := seedPermission(t, svc, "core.invoices.select")
	updatePerm := seedPermission(t, svc, "core.invoices.update")
	deletePerm := seedPermission(t, svc, "core.invoices.delete")

	rule := &AclRule{PermissionID: selectPerm.ID, Filters: P("tenant_id", 42)}
	require.NoError(t, svc.CreateRule(ctx, rule, (*testInvoice)(nil)))
	require.NoError(t, svc.CreateRule(ctx, &AclRule{PermissionID: deletePerm.ID, Filters: P("status", "draft")}, (*testInvoice)(nil)))

	seedInvoice(t, db, &testInvoice{TenantID: 42, Name: "mine"})
	seedInvoice(t, db, &testInvoice{TenantID: 7, Name: "seven"})

	scopedNames := func(permissionID int64) []string {
		var invoices []testInvoice
		require.NoError(t, db.NewSelect().Model(&invoices).
			Apply(svc.Acl().Scope(ctx, (*testInvoice)(nil), permissionID)).
			OrderExpr("invoice.id ASC").
			Scan(ctx))
		names := make([]string, len(invoices))
		for i, inv := range invoices {
			names[i] = inv.Name
		}
		return names
	}

	rule.Filters = P("tenant_id", 7)
	require.NoError(t, svc.UpdateRule(ctx, rule, (*testInvoice)(nil)))
	assert.Equal(t, []string{"seven"}, scopedNames(selectPerm.ID))

	rule.PermissionID = updatePerm.ID
	require.NoError(t, svc.UpdateRule(ctx, rule, (*testInvoice)(nil)))
	assert.Equal(t, []string{"mine", "seven"}, scopedNames(selectPerm.ID), "old permission is unrestricted")
	assert.Equal(t, []string{"seven"}, scopedNames(updatePerm.ID))

	rule.PermissionID = deletePerm.ID
	assert.ErrorIs(t, svc.UpdateRule(ctx, rule, (*testInvoice)(nil)), ErrRuleAlreadyExists)

	rule.PermissionID = 9999
	assert.True(t, IsUnknownPermission(svc.UpdateRule(ctx, rule, (*testInvoice)(nil))))

	missing := &AclRule{ID: 9999, PermissionID: selectPerm.ID, Filters: P("tenant_id", 1)}
	assert.ErrorIs(t, svc.UpdateRule(ctx, missing, (*testInvoice)(nil)), ErrRuleNotFound)
}

// TestServiceDeleteRule tests rule removal
func TestServiceDeleteRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	perm := seedPermission(t, svc, "core.invoices.select")

	rule := &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", 42)}
	require.NoError(t, svc.CreateRule(ctx, rule, (*testInvoice)(nil)))
	require.NoError(t, svc.DeleteRule(ctx, rule.ID))

	_, err := svc.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.ErrorIs(t, svc.DeleteRule(ctx, rule.ID), ErrRuleNotFound)

	require.NoError(t, svc.CreateRule(ctx, &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", 1)}, (*testInvoice)(nil)),
		"permission can carry a new rule")
}

// TestServiceListRules tests filtering and paging of the rule listing
func TestServiceListRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	names := []string{"core.invoices.select", "core.invoices.update", "core.customers.select", "cms_pages.invoices.select"}
	ids := make([]int64, len(names))
	for i, name := range names {
		perm := seedPermission(t, svc, name)
		ids[i] = perm.ID
		require.NoError(t, svc.CreateRule(ctx, &AclRule{PermissionID: perm.ID, Filters: P("tenant_id", i)}, (*testInvoice)(nil)))
	}
	apiPerm := &Permission{Name: "core.invoices.delete", GuardName: "api"}
	require.NoError(t, svc.CreatePermission(ctx, apiPerm))
	require.NoError(t, svc.CreateRule(ctx, &AclRule{PermissionID: apiPerm.ID, Filters: P("tenant_id", 9)}, (*testInvoice)(nil)))

	listed := func(res CrudResult) []int64 {
		t.Helper()
		require.Empty(t, res.Error)
		rules := *res.Data.(*[]AclRule)
		out := make([]int64, len(rules))
		for i, r := range rules {
			out[i] = r.PermissionID
		}
		return out
	}

	t.Run("all", func(t *testing.T) {
		res := svc.ListRules(ctx, NewRuleListFilter())
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Len(t, listed(res), 5)
		assert.Equal(t, 5, *res.Meta.TotalRecords)
		assert.Equal(t, "AclRule", *res.Meta.Class)
		assert.Equal(t, "acls", *res.Meta.Table)
	})

	t.Run("prefix", func(t *testing.T) {
		res := svc.ListRules(ctx, NewRuleListFilter().WithPermissionPrefix("core.invoices."))
		assert.Equal(t, []int64{ids[0], ids[1], apiPerm.ID}, listed(res))
	})

	t.Run("prefix underscore is literal", func(t *testing.T) {
		res := svc.ListRules(ctx, NewRuleListFilter().WithPermissionPrefix("cms_"))
		assert.Equal(t, []int64{ids[3]}, listed(res))

		res = svc.ListRules(ctx, NewRuleListFilter().WithPermissionPrefix("cms%"))
		assert.Empty(t, listed(res))
	})

	t.Run("guard", func(t *testing.T) {
		res := svc.ListRules(ctx, NewRuleListFilter().WithGuard("api"))
		assert.Equal(t, []int64{apiPerm.ID}, listed(res))

		res = svc.ListRules(ctx, NewRuleListFilter().WithPermissionPrefix("core.").WithGuard(DefaultGuard))
		assert.Equal(t, []int64{ids[0], ids[1], ids[2]}, listed(res))
	})

	t.Run("permission", func(t *testing.T) {
		res := svc.ListRules(ctx, NewRuleListFilter().WithPermission(ids[2]))
		assert.Equal(t, []int64{ids[2]}, listed(res))
	})

	t.Run("pagination", func(t *testing.T) {
		res := svc.ListRules(ctx, NewRuleListFilter().WithPagination(2, 2))
		assert.Equal(t, []int64{ids[2], ids[3]}, listed(res))
		assert.Equal(t, 3, *res.Meta.TotalPages)
		assert.Equal(t, 3, *res.Meta.From)
		assert.Equal(t, 4, *res.Meta.To)
	})
}

// TestRuleListFilter tests the filter builders
func TestRuleListFilter(t *testing.T) {
	f := NewRuleListFilter()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPerPage, f.PerPage)

	g := f.WithPermission(3).WithPermissionPrefix("core.").WithGuard("api").WithPagination(2, 10)
	assert.Equal(t, RuleListFilter{PermissionID: 3, PermissionPrefix: "core.", Guard: "api", Page: 2, PerPage: 10}, g)
	assert.Zero(t, f.PermissionID, "builders return copies")
}
