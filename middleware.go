package laraplate

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Middleware provides the coarse permission gate in front of handlers. A request that
// passes carries the Checker, the granting permission id, the AclService and the
// Locker in its context, so handlers scope their queries with ScopeFromContext.
type Middleware struct {
	service      *Service
	guard        string
	getUserID    func(*http.Request) string
	errorHandler func(http.ResponseWriter, *http.Request, error)
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance.
//
// Example:
//
//	mw := laraplate.NewMiddleware(service,
//	    laraplate.WithUserIDExtractor(func(r *http.Request) string {
//	        return r.Header.Get("X-User-ID")
//	    }),
//	)
func NewMiddleware(service *Service, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		service:      service,
		guard:        DefaultGuard,
		getUserID:    defaultGetUserID,
		errorHandler: defaultErrorHandler,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithUserIDExtractor sets a custom function to extract user ID from request.
func WithUserIDExtractor(fn func(*http.Request) string) MiddlewareOption {
	return func(m *Middleware) {
		m.getUserID = fn
	}
}

// WithErrorHandler sets a custom error handler for middleware.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

// WithGuard sets the guard permissions are checked against.
func WithGuard(guard string) MiddlewareOption {
	return func(m *Middleware) {
		if guard != "" {
			m.guard = guard
		}
	}
}

func defaultGetUserID(r *http.Request) string {
	return GetUserID(r.Context())
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	http.Error(w, http.StatusText(code), code)
}

// RequirePermission creates middleware that requires a specific permission. The
// permission id is stored in the request context for the row-level step.
//
// Example:
//
//	mux.Handle("GET /invoices", mw.RequirePermission("core.invoices.select")(listInvoices))
//
//	func listInvoices(w http.ResponseWriter, r *http.Request) {
//	    var invoices []Invoice
//	    q := db.NewSelect().Model(&invoices).Apply(laraplate.ScopeFromContext(r.Context(), (*Invoice)(nil)))
//	    ...
//	}
func (m *Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return m.RequireAnyPermission([]string{permission})
}

// RequireAnyPermission creates middleware that requires any of the specified permissions.
// The first one held, in the given order, is the one whose ACL rule applies. Entries may
// be patterns such as "core.invoices.*"; a pattern resolves to the first matching held
// permission in name order. Malformed entries are logged and every request is rejected
// with ErrInvalidPermission.
func (m *Middleware) RequireAnyPermission(permissions []string) func(http.Handler) http.Handler {
	var invalid error
	for _, perm := range permissions {
		if err := DefaultMatcher.ValidatePattern(perm); err != nil {
			invalid = err
			m.service.logger.Error("invalid required permission",
				zap.String("permission", perm),
				zap.Error(err),
			)
			break
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if invalid != nil {
				m.errorHandler(w, r, invalid)
				return
			}

			ctx := r.Context()
			userID := m.getUserID(r)
			if userID == "" {
				m.errorHandler(w, r, ErrNoUserID)
				return
			}

			checker, err := m.service.GetChecker(ctx, userID, m.guard)
			if err != nil {
				m.errorHandler(w, r, err)
				return
			}

			granted := int64(0)
			for _, perm := range permissions {
				if id, ok := checker.ResolvePermission(perm); ok {
					granted = id
					break
				}
			}
			if granted == 0 {
				m.errorHandler(w, r, NewError(ErrUnauthorized, "missing required permission"))
				return
			}

			ctx = WithChecker(ctx, checker)
			ctx = WithPermissionID(ctx, granted)
			ctx = WithAcl(ctx, m.service.Acl())
			ctx = WithLocker(ctx, m.service.Locker())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoadChecker creates middleware that loads the user's Checker into context.
// Use this when you want to do permission checks in the handler rather than middleware.
func (m *Middleware) LoadChecker() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := m.getUserID(r)
			if userID == "" {
				// No user, continue without checker
				next.ServeHTTP(w, r)
				return
			}

			checker, err := m.service.GetChecker(ctx, userID, m.guard)
			if err != nil {
				m.service.logger.Warn("loading checker failed",
					zap.String("user_id", userID),
					zap.String("request_id", GetRequestID(ctx)),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			ctx = WithChecker(ctx, checker)
			ctx = WithAcl(ctx, m.service.Acl())
			ctx = WithLocker(ctx, m.service.Locker())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InjectRequestContext creates middleware that stores the request id (from
// X-Request-ID, generated when absent) and the user id in the context.
//
// Example:
//
//	handler = mw.InjectRequestContext()(handler)
func (m *Middleware) InjectRequestContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx = WithRequestID(ctx, requestID)
			w.Header().Set("X-Request-ID", requestID)

			if userID := m.getUserID(r); userID != "" {
				ctx = WithUserID(ctx, userID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
