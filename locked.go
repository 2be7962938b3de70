package laraplate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Locker guards writes against stale reads without holding a database lock.
//
// Acquire captures the resource's fingerprint. Release commits the staged changes with
// a single conditional UPDATE that only matches while the fingerprint is unchanged, and
// moves the fingerprint forward in the same statement. A mismatch is reported as
// ErrStaleModelLocking and nothing is written. Nothing is ever retried here: the
// caller reloads and decides again.
//
// The comparison is exact for version counters under read-committed isolation or
// stronger. Timestamp fingerprints cannot tell apart two writes landing in the same
// microsecond.
//
// A Locker is safe for concurrent use. A LockHandle belongs to one caller.
type Locker struct {
	db         bun.IDB
	registry   *Registry
	holdWindow time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *Metrics
}

// LockerOption configures the Locker.
type LockerOption func(*Locker)

// WithHoldWindow limits how long a handle may be held before release. Zero disables it.
func WithHoldWindow(d time.Duration) LockerOption {
	return func(l *Locker) {
		if d >= 0 {
			l.holdWindow = d
		}
	}
}

// WithLockClock replaces time.Now.
func WithLockClock(now func() time.Time) LockerOption {
	return func(l *Locker) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLockLogger sets the logger.
func WithLockLogger(logger *zap.Logger) LockerOption {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLockMetrics sets the metrics sink.
func WithLockMetrics(m *Metrics) LockerOption {
	return func(l *Locker) {
		l.metrics = m
	}
}

// NewLocker creates a Locker over db. Resources must belong to models defined in registry.
func NewLocker(db bun.IDB, registry *Registry, opts ...LockerOption) *Locker {
	l := &Locker{
		db:       db,
		registry: registry,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithTx returns a copy of the locker bound to tx, so the fingerprint reads and the
// conditional commit run inside the caller's transaction.
//
// Example:
//
//	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
//	    return locker.WithTx(tx).WithLock(ctx, res, func(h *laraplate.LockHandle) error {
//	        return h.Stage("status", "paid")
//	    })
//	})
func (l *Locker) WithTx(tx bun.IDB) *Locker {
	cp := *l
	cp.db = tx
	return &cp
}

// HoldWindow returns the configured hold window.
func (l *Locker) HoldWindow() time.Duration { return l.holdWindow }

// Acquire captures the current fingerprint of resource. An empty token is replaced by
// a random one.
func (l *Locker) Acquire(ctx context.Context, resource Resource, token string) (*LockHandle, error) {
	def, err := l.registry.lookup(resource.Model)
	if err != nil {
		return nil, err
	}

	fp, err := l.read(ctx, def, resource)
	if err != nil {
		return nil, err
	}

	if token == "" {
		token = uuid.NewString()
	}

	h := &LockHandle{
		resource:    resource,
		token:       token,
		model:       def,
		acquiredAt:  l.now(),
		fingerprint: fp,
		state:       LockAcquired,
	}

	l.metrics.lockOutcome(lockOutcomeAcquired, 0)
	l.logger.Debug("lock acquired",
		zap.Stringer("resource", resource),
		zap.String("token", token),
		zap.Stringer("fingerprint", fp),
	)

	return h, nil
}

// IsStale reports whether the resource changed since acquisition. It does not change
// the handle's state.
func (l *Locker) IsStale(ctx context.Context, h *LockHandle) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != LockAcquired {
		return false, h.notHeld()
	}

	current, err := l.read(ctx, h.model, h.resource)
	if err != nil {
		return false, err
	}
	return !current.Equal(h.fingerprint), nil
}

// Renew restarts the hold window while the fingerprint still matches. On mismatch the
// handle becomes stale.
func (l *Locker) Renew(ctx context.Context, h *LockHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != LockAcquired {
		return h.notHeld()
	}
	if err := l.checkWindow(h); err != nil {
		return err
	}

	current, err := l.read(ctx, h.model, h.resource)
	if err != nil {
		return err
	}
	if !current.Equal(h.fingerprint) {
		return l.markStale(h, current)
	}

	h.acquiredAt = l.now()
	return nil
}

// Release commits the staged changes if the resource is unchanged since acquisition.
// Without staged changes the fingerprint is only compared.
func (l *Locker) Release(ctx context.Context, h *LockHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != LockAcquired {
		return h.notHeld()
	}
	if err := l.checkWindow(h); err != nil {
		return err
	}

	if len(h.staged) == 0 {
		current, err := l.read(ctx, h.model, h.resource)
		if err != nil {
			return err
		}
		if !current.Equal(h.fingerprint) {
			return l.markStale(h, current)
		}
		l.markReleased(h, current)
		return nil
	}

	def := h.model
	fpCol := def.fingerprint.Column
	next := h.fingerprint.Next(l.now())

	q := l.db.NewUpdate().Table(def.table)
	for _, change := range h.staged {
		q = q.Set("? = ?", bun.Ident(change.Field), change.Value)
	}
	q = q.Set("? = ?", bun.Ident(fpCol), next.Value()).
		Where("? = ?", bun.Ident(def.key), h.resource.ID).
		Where("? = ?", bun.Ident(fpCol), h.fingerprint.Value())

	res, err := q.Exec(ctx)
	if err = dbkit.WithErr1(err, "ReleaseLock").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to commit locked write").
			WithResource(h.resource).
			WithCause(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return NewError(ErrDatabaseError, "failed to read affected rows").
			WithResource(h.resource).
			WithCause(err)
	}

	if affected == 0 {
		current, err := l.read(ctx, def, h.resource)
		if err != nil {
			return err
		}
		return l.markStale(h, current)
	}

	l.markReleased(h, next)
	return nil
}

// WithLock acquires resource, runs fn and releases. When fn fails the handle is
// abandoned and nothing staged is written.
func (l *Locker) WithLock(ctx context.Context, resource Resource, fn func(h *LockHandle) error) error {
	h, err := l.Acquire(ctx, resource, "")
	if err != nil {
		return err
	}
	if err := fn(h); err != nil {
		return err
	}
	return l.Release(ctx, h)
}

func (l *Locker) read(ctx context.Context, def *ModelDefinition, resource Resource) (Fingerprint, error) {
	fp, err := readFingerprint(ctx, l.db, def, resource.ID)
	if err == nil {
		return fp, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Fingerprint{}, NewError(ErrResourceNotFound, "resource row does not exist").
			WithModel(def.name).
			WithResource(resource)
	}
	err = dbkit.WithErr1(err, "ReadFingerprint").Err()
	if dbkit.IsNotFound(err) {
		return Fingerprint{}, NewError(ErrResourceNotFound, "resource row does not exist").
			WithModel(def.name).
			WithResource(resource)
	}
	return Fingerprint{}, NewError(ErrDatabaseError, "failed to read fingerprint").
		WithModel(def.name).
		WithResource(resource).
		WithCause(err)
}

// checkWindow must be called with h.mu held.
func (l *Locker) checkWindow(h *LockHandle) error {
	if l.holdWindow <= 0 {
		return nil
	}
	held := l.now().Sub(h.acquiredAt)
	if held <= l.holdWindow {
		return nil
	}

	h.state = LockExpired
	l.metrics.lockOutcome(lockOutcomeExpired, held)
	l.logger.Info("lock expired",
		zap.Stringer("resource", h.resource),
		zap.String("token", h.token),
		zap.Duration("held", held),
	)
	return NewError(ErrLockExpired, fmt.Sprintf("held for %s, window is %s", held, l.holdWindow)).
		WithResource(h.resource)
}

// markStale must be called with h.mu held.
func (l *Locker) markStale(h *LockHandle, current Fingerprint) error {
	h.state = LockStale
	l.metrics.lockOutcome(lockOutcomeStale, l.now().Sub(h.acquiredAt))
	l.logger.Warn("stale lock detected",
		zap.Stringer("resource", h.resource),
		zap.String("token", h.token),
		zap.Stringer("captured", h.fingerprint),
		zap.Stringer("current", current),
	)
	return NewError(ErrStaleModelLocking,
		fmt.Sprintf("captured %s, found %s", h.fingerprint, current)).
		WithModel(h.model.name).
		WithResource(h.resource)
}

// markReleased must be called with h.mu held.
func (l *Locker) markReleased(h *LockHandle, committed Fingerprint) {
	h.state = LockReleased
	h.committed = committed
	l.metrics.lockOutcome(lockOutcomeReleased, l.now().Sub(h.acquiredAt))
	l.logger.Debug("lock released",
		zap.Stringer("resource", h.resource),
		zap.String("token", h.token),
		zap.Stringer("fingerprint", committed),
	)
}
