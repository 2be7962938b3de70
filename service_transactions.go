package laraplate

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Transaction executes fn within a database transaction with automatic commit/rollback.
// fn receives a copy of the service bound to the transaction: its writes, its Locker
// and its reads all run on tx. Rule cache invalidations are deferred until commit and
// dropped on rollback. Nested calls reuse the outer transaction.
//
// Example:
//
//	err := service.Transaction(ctx, func(ctx context.Context, tx *laraplate.Service) error {
//	    if err := tx.CreatePermission(ctx, perm); err != nil {
//	        return err // This will cause a rollback
//	    }
//	    return tx.CreateRule(ctx, &laraplate.AclRule{PermissionID: perm.ID, Filters: filters}, invoiceModel)
//	})
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error {
	return s.TransactionWithOptions(ctx, nil, fn)
}

// TransactionWithOptions is Transaction with explicit isolation and read-only settings.
func (s *Service) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx *Service) error) error {
	if s.pending != nil {
		return fn(ctx, s)
	}

	start := time.Now()
	pending := &pendingInvalidations{}

	err := s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.withTx(tx, pending))
	})

	s.logger.Debug("transaction finished",
		zap.Duration("duration", time.Since(start)),
		zap.Bool("committed", err == nil),
	)

	if err != nil {
		return err
	}

	for _, id := range pending.drain() {
		s.invalidate(ctx, id)
	}
	return nil
}

// ReadOnlyTransaction executes fn within a read-only transaction.
func (s *Service) ReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error {
	return s.TransactionWithOptions(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Service) withTx(tx bun.IDB, pending *pendingInvalidations) *Service {
	cp := *s
	cp.db = tx
	cp.locker = s.locker.WithTx(tx)
	cp.pending = pending
	// Uncached rules are read through the transaction so fn sees its own writes.
	if _, ok := s.rules.(*DBRuleStore); ok {
		cp.rules = NewDBRuleStore(tx)
		cp.acl = NewAclService(s.registry, cp.rules,
			WithAclLogger(s.logger),
			WithAclMetrics(s.metrics),
		)
	}
	return &cp
}

// invalidate drops the cached rule lookup of a permission, or queues it when running
// inside a transaction. Cache failures are logged; the write already happened.
func (s *Service) invalidate(ctx context.Context, permissionID int64) {
	if s.pending != nil {
		s.pending.add(permissionID)
		return
	}

	inv, ok := s.rules.(RuleInvalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, permissionID); err != nil {
		s.logger.Warn("acl cache invalidation failed",
			zap.Int64("permission_id", permissionID),
			zap.Error(err),
		)
	}
}

type pendingInvalidations struct {
	mu  sync.Mutex
	ids []int64
}

func (p *pendingInvalidations) add(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
}

func (p *pendingInvalidations) drain() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.ids
	p.ids = nil
	return ids
}
