package laraplate

import (
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Service administers permissions, roles and ACL rules, and hands out the AclService
// and Locker built over the same database.
//
// Error Handling:
// Database failures are wrapped with dbkit's chainable error wrapping and returned as
// an *Error of kind ErrDatabaseError, with the dbkit error as Cause. Domain failures
// use the sentinel errors of this package, so callers branch with errors.Is or the
// Is* helpers and map them to HTTP with StatusCode.
//
// Example error handling:
//
//	err := service.UpdatePermission(ctx, perm)
//	switch {
//	case errors.Is(err, laraplate.ErrPermissionInUse):
//	    // Referenced by a rule or a role
//	case laraplate.IsUnknownPermission(err):
//	    // Gone
//	}
type Service struct {
	db       bun.IDB
	registry *Registry
	rules    RuleStore
	acl      *AclService
	locker   *Locker
	logger   *zap.Logger
	metrics  *Metrics

	lockerOpts []LockerOption

	// Set on transaction-bound copies: invalidations wait for commit.
	pending *pendingInvalidations
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithLogger sets the logger shared by the service, its AclService and its Locker.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink shared by the AclService and the Locker.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRuleStore replaces the rule store read by the AclService, usually a cache in
// front of a DBRuleStore. Stores implementing RuleInvalidator are invalidated after
// every rule or permission change.
func WithRuleStore(store RuleStore) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.rules = store
		}
	}
}

// WithLockerOptions passes options to the Locker.
func WithLockerOptions(opts ...LockerOption) ServiceOption {
	return func(s *Service) {
		s.lockerOpts = append(s.lockerOpts, opts...)
	}
}

// NewService creates a new laraplate service.
//
// Example:
//
//	registry := laraplate.NewRegistry()
//	registry.DefineModel("invoices").Alias("invoice").Fields("tenant_id", "name")
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	service := laraplate.NewService(registry, db.Bun())
//	q, err := service.Acl().ApplyAclToQuery(ctx, query, (*Invoice)(nil), permissionID)
func NewService(registry *Registry, db bun.IDB, opts ...ServiceOption) *Service {
	s := &Service{
		db:       db,
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rules == nil {
		s.rules = NewDBRuleStore(db)
	}

	s.acl = NewAclService(registry, s.rules,
		WithAclLogger(s.logger),
		WithAclMetrics(s.metrics),
	)
	s.locker = NewLocker(db, registry, append([]LockerOption{
		WithLockLogger(s.logger),
		WithLockMetrics(s.metrics),
	}, s.lockerOpts...)...)

	return s
}

// Registry returns the model registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Acl returns the AclService.
func (s *Service) Acl() *AclService {
	return s.acl
}

// Locker returns the Locker. Inside Transaction it is bound to the transaction.
func (s *Service) Locker() *Locker {
	return s.locker
}

// DB returns the database handle the service runs on.
func (s *Service) DB() bun.IDB {
	return s.db
}

// Metrics returns the metrics sink, possibly nil.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}
