// Package laraplate provides the access-control and concurrency-safety core of an
// admin-style application: row-level ACL rules that narrow query results per
// permission, and optimistic model locking that rejects writes based on stale reads.
//
// Authorization is two-layered. The caller first decides whether the user holds a
// permission at all (Service.HasPermission, Middleware.RequirePermission). The
// AclService then decides which rows that permission exposes, by applying the ACL rule
// bound to it to an unexecuted bun query.
//
// # Core Concepts
//
// Permission: a capability named module.model.action, e.g. "core.invoices.select".
// Users receive permissions through roles. Permission checks accept patterns:
// "*" (anything), "core.invoices.*" (any action on a model), "*.*.select" (one
// action everywhere).
//
// ACL rule: at most one per permission. Filters are AND-ed equality constraints
// (a nil value means IS NULL, a slice means IN); sort pairs are appended to the
// query's ordering in the order they were stored. A permission without a rule sees
// every row.
//
// Registry: declares which models can be scoped or locked, the columns rules may
// reference and the relations reachable from each model. Rule fields outside the
// registry are rejected, so a rule can never inject SQL or silently match nothing.
//
// Fingerprint: a version counter (default) or timestamp column compared at release
// time to detect concurrent modification.
//
// # Basic Usage
//
//	// 1. Declare models (at application startup)
//	registry := laraplate.NewRegistry()
//	registry.DefineModel("invoices").
//	    Alias("invoice").
//	    Fields("id", "tenant_id", "name", "status", "created_at").
//	    Fingerprint("updated_at", laraplate.FingerprintTimestamp).
//	    Relation("customer").Table("customers").Join("customer_id", "id").Fields("country")
//
//	// 2. Create the service
//	service := laraplate.NewService(registry, db)
//
//	// 3. Bind a rule to a permission
//	service.CreateRule(ctx, &laraplate.AclRule{
//	    PermissionID: perm.ID,
//	    Filters:      laraplate.P("tenant_id", 42),
//	    Sort:         laraplate.P("name", "asc"),
//	}, (*Invoice)(nil))
//
//	// 4. Scope list queries
//	var invoices []Invoice
//	err := db.NewSelect().Model(&invoices).
//	    Apply(service.Acl().Scope(ctx, (*Invoice)(nil), perm.ID)).
//	    Scan(ctx)
//
// # Optimistic Locking
//
//	locker := service.Locker()
//	h, err := locker.Acquire(ctx, laraplate.NewResource((*Invoice)(nil), 5), "")
//	// ... user edits ...
//	h.Stage("status", "paid")
//	if err := locker.Release(ctx, h); laraplate.IsStaleModelLocking(err) {
//	    // Someone else changed invoice 5: reload and let the user decide again
//	}
//
// Nothing is retried internally. ErrStaleModelLocking maps to HTTP 409 through
// StatusCode.
//
// # Middleware Usage
//
//	mw := laraplate.NewMiddleware(service)
//	mux.Handle("GET /invoices", mw.RequirePermission("core.invoices.select")(listHandler))
//
// The handler then scopes its query with ScopeFromContext.
package laraplate
