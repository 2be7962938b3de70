package laraplate

import (
	"fmt"
	"sync"
	"time"
)

// LockState is the state of a LockHandle.
type LockState int

const (
	LockUnlocked LockState = iota
	LockAcquired
	LockReleased
	LockStale
	LockExpired
)

// String implements fmt.Stringer.
func (s LockState) String() string {
	switch s {
	case LockUnlocked:
		return "unlocked"
	case LockAcquired:
		return "acquired"
	case LockReleased:
		return "released"
	case LockStale:
		return "stale"
	case LockExpired:
		return "expired"
	default:
		return fmt.Sprintf("LockState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s LockState) Terminal() bool {
	return s == LockReleased || s == LockStale || s == LockExpired
}

// Resource identifies a lockable row: a registered model and its primary key value.
type Resource struct {
	Model string
	ID    any
}

// NewResource builds a Resource for a registered model.
func NewResource(model Scopeable, id any) Resource {
	return Resource{Model: model.ACLModel(), ID: id}
}

// String implements fmt.Stringer.
func (r Resource) String() string {
	return fmt.Sprintf("%s#%v", r.Model, r.ID)
}

// Lockable is implemented by models that know their own resource identity.
type Lockable interface {
	Scopeable
	LockID() any
}

// ResourceOf returns the Resource of a Lockable model.
func ResourceOf(m Lockable) Resource {
	return Resource{Model: m.ACLModel(), ID: m.LockID()}
}

// LockHandle is one acquisition of a resource. It lives in memory only; abandoning
// a handle without releasing it leaves nothing behind and commits nothing.
type LockHandle struct {
	mu          sync.Mutex
	resource    Resource
	token       string
	model       *ModelDefinition
	acquiredAt  time.Time
	fingerprint Fingerprint
	committed   Fingerprint
	staged      Pairs
	state       LockState
}

// Resource returns the locked resource.
func (h *LockHandle) Resource() Resource { return h.resource }

// Token returns the holder token.
func (h *LockHandle) Token() string { return h.token }

// AcquiredAt returns when the hold window started. Renew moves it forward.
func (h *LockHandle) AcquiredAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquiredAt
}

// Fingerprint returns the fingerprint captured at acquisition.
func (h *LockHandle) Fingerprint() Fingerprint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fingerprint
}

// Committed returns the fingerprint stored by a successful release.
func (h *LockHandle) Committed() (Fingerprint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.committed, h.state == LockReleased
}

// State returns the current state.
func (h *LockHandle) State() LockState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Stage records a column change to commit on release. Staging the same column twice
// keeps the last value.
func (h *LockHandle) Stage(column string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != LockAcquired {
		return h.notHeld()
	}
	if column == h.model.fingerprint.Column {
		return NewError(ErrInvalidFilterField, fmt.Sprintf("fingerprint column %q is managed by the locker", column)).
			WithModel(h.model.name).
			WithField(column).
			WithResource(h.resource)
	}
	if column == h.model.key || !h.model.HasField(column) {
		return NewError(ErrInvalidFilterField, fmt.Sprintf("column %q cannot be staged on model %q", column, h.model.name)).
			WithModel(h.model.name).
			WithField(column).
			WithResource(h.resource)
	}

	h.staged = h.staged.Set(column, value)
	return nil
}

// Staged returns a copy of the staged changes.
func (h *LockHandle) Staged() Pairs {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(Pairs, len(h.staged))
	copy(out, h.staged)
	return out
}

// notHeld must be called with h.mu held.
func (h *LockHandle) notHeld() error {
	return NewError(ErrLockNotHeld, fmt.Sprintf("lock is %s", h.state)).WithResource(h.resource)
}
