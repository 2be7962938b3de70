package laraplate

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	aclOutcomeRestricted   = "restricted"
	aclOutcomeUnrestricted = "unrestricted"
	aclOutcomeInvalid      = "invalid"
	aclOutcomeError        = "error"

	lockOutcomeAcquired = "acquired"
	lockOutcomeReleased = "released"
	lockOutcomeStale    = "stale"
	lockOutcomeExpired  = "expired"
)

// Metrics exports ACL and lock counters to Prometheus and keeps an in-process
// snapshot of lock activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	aclApplications *prometheus.CounterVec
	lockOutcomes    *prometheus.CounterVec
	monitor         *lockMonitor
}

// NewMetrics creates the collectors and registers them on reg. A nil reg skips
// registration, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		aclApplications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laraplate",
			Name:      "acl_applications_total",
			Help:      "ACL rule applications by outcome.",
		}, []string{"outcome"}),
		lockOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laraplate",
			Name:      "lock_outcomes_total",
			Help:      "Optimistic lock transitions by outcome.",
		}, []string{"outcome"}),
		monitor: newLockMonitor(),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.aclApplications, m.lockOutcomes} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) aclOutcome(outcome string) {
	if m == nil {
		return
	}
	m.aclApplications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) lockOutcome(outcome string, held time.Duration) {
	if m == nil {
		return
	}
	m.lockOutcomes.WithLabelValues(outcome).Inc()
	m.monitor.record(outcome, held)
}

// LockMetrics returns the current lock statistics.
func (m *Metrics) LockMetrics() LockMetrics {
	if m == nil {
		return LockMetrics{}
	}
	return m.monitor.snapshot()
}

// ResetLockMetrics resets the in-process lock statistics. Prometheus counters are
// monotonic and not affected.
func (m *Metrics) ResetLockMetrics() {
	if m == nil {
		return
	}
	m.monitor.reset()
}

// LockMetrics provides optimistic lock activity statistics.
type LockMetrics struct {
	Acquired        int64         `json:"acquired"`
	Released        int64         `json:"released"`
	Stale           int64         `json:"stale"`
	Expired         int64         `json:"expired"`
	AverageHoldTime time.Duration `json:"average_hold_time"`
	MaxHoldTime     time.Duration `json:"max_hold_time"`
	LastReset       time.Time     `json:"last_reset"`
}

// ConflictRate is the share of finished locks that ended stale or expired.
func (lm LockMetrics) ConflictRate() float64 {
	finished := lm.Released + lm.Stale + lm.Expired
	if finished == 0 {
		return 0
	}
	return float64(lm.Stale+lm.Expired) / float64(finished)
}

// lockMonitor holds the internal lock monitoring state
type lockMonitor struct {
	mu        sync.Mutex
	acquired  int64
	released  int64
	stale     int64
	expired   int64
	finished  int64
	totalHold time.Duration
	maxHold   time.Duration
	lastReset time.Time
}

func newLockMonitor() *lockMonitor {
	return &lockMonitor{lastReset: time.Now()}
}

func (lm *lockMonitor) record(outcome string, held time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	switch outcome {
	case lockOutcomeAcquired:
		lm.acquired++
		return
	case lockOutcomeReleased:
		lm.released++
	case lockOutcomeStale:
		lm.stale++
	case lockOutcomeExpired:
		lm.expired++
	}

	lm.finished++
	lm.totalHold += held
	if held > lm.maxHold {
		lm.maxHold = held
	}
}

func (lm *lockMonitor) snapshot() LockMetrics {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var avg time.Duration
	if lm.finished > 0 {
		avg = lm.totalHold / time.Duration(lm.finished)
	}

	return LockMetrics{
		Acquired:        lm.acquired,
		Released:        lm.released,
		Stale:           lm.stale,
		Expired:         lm.expired,
		AverageHoldTime: avg,
		MaxHoldTime:     lm.maxHold,
		LastReset:       lm.lastReset,
	}
}

func (lm *lockMonitor) reset() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.acquired, lm.released, lm.stale, lm.expired, lm.finished = 0, 0, 0, 0, 0
	lm.totalHold, lm.maxHold = 0, 0
	lm.lastReset = time.Now()
}
