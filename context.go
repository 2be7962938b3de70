package laraplate

import (
	"context"

	"github.com/uptrace/bun"
)

// Context keys for laraplate values.
type contextKey string

const (
	contextKeyUserID       contextKey = "laraplate:user_id"
	contextKeyRequestID    contextKey = "laraplate:request_id"
	contextKeyChecker      contextKey = "laraplate:checker"
	contextKeyPermissionID contextKey = "laraplate:permission_id"
	contextKeyAcl          contextKey = "laraplate:acl"
	contextKeyLocker       contextKey = "laraplate:locker"
)

// WithUserID adds a user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// GetUserID retrieves the user ID from context.
// Returns empty string if not set.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(contextKeyUserID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context (for log correlation).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithChecker adds a Checker to the context.
// This is set by middleware and can be retrieved in handlers.
func WithChecker(ctx context.Context, checker *Checker) context.Context {
	return context.WithValue(ctx, contextKeyChecker, checker)
}

// GetChecker retrieves the Checker from context.
// Returns nil if not set.
func GetChecker(ctx context.Context) *Checker {
	if v := ctx.Value(contextKeyChecker); v != nil {
		if c, ok := v.(*Checker); ok {
			return c
		}
	}
	return nil
}

// WithPermissionID records the permission that granted access to the current request.
// The row-level step reads it back to pick the ACL rule.
func WithPermissionID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, contextKeyPermissionID, id)
}

// PermissionFromContext returns the permission id stored by WithPermissionID.
func PermissionFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKeyPermissionID).(int64)
	return id, ok
}

// WithAcl makes an AclService available to code further down the call chain.
func WithAcl(ctx context.Context, acl *AclService) context.Context {
	return context.WithValue(ctx, contextKeyAcl, acl)
}

// AclFromContext returns the AclService stored by WithAcl, or nil.
func AclFromContext(ctx context.Context) *AclService {
	acl, _ := ctx.Value(contextKeyAcl).(*AclService)
	return acl
}

// WithLocker makes a Locker available to code further down the call chain.
func WithLocker(ctx context.Context, locker *Locker) context.Context {
	return context.WithValue(ctx, contextKeyLocker, locker)
}

// LockerFromContext returns the Locker stored by WithLocker, or nil.
func LockerFromContext(ctx context.Context) *Locker {
	l, _ := ctx.Value(contextKeyLocker).(*Locker)
	return l
}

// ScopeFromContext narrows q with the AclService and permission id found in ctx. It
// fails with ErrUnauthorized when no permission was recorded, so a handler mounted
// without the permission gate cannot list rows unrestricted by accident.
func ScopeFromContext(ctx context.Context, model Scopeable) func(q *bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		acl := AclFromContext(ctx)
		id, ok := PermissionFromContext(ctx)
		if acl == nil || !ok {
			return q.Err(NewError(ErrUnauthorized, "no permission or acl service in context").
				WithModel(model.ACLModel()))
		}
		return acl.Scope(ctx, model, id)(q)
	}
}
