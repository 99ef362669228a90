package quota

import (
	"sync"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
)

// Tracker enforces the free-form question allowance for one session. It is
// monotone: once exhausted, further Consume calls return allowed=false
// without decrementing again, and the exhausted notification fires exactly
// once per Reset cycle.
type Tracker struct {
	mu          sync.Mutex
	used        int
	max         int
	notified    bool
	onExhausted func(remaining int)
	log         *zap.Logger
}

func NewTracker(max int, log *zap.Logger) *Tracker {
	if max < 0 {
		max = 0
	}
	return &Tracker{max: max, log: log}
}

// Restore primes the tracker from a persisted session snapshot.
func (t *Tracker) Restore(used int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if used < 0 {
		used = 0
	}
	t.used = used
	t.notified = used >= t.max
}

// OnExhausted registers the single crossing notification. Only the crossing
// from remaining>0 to remaining==0 triggers it.
func (t *Tracker) OnExhausted(fn func(remaining int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExhausted = fn
}

// Consume spends one question. Returns whether the question is allowed and
// the remaining count after the call. Never goes negative.
func (t *Tracker) Consume() (bool, int) {
	t.mu.Lock()

	if t.used >= t.max {
		remaining := 0
		t.mu.Unlock()
		return false, remaining
	}

	t.used++
	remaining := t.max - t.used

	var notify func(int)
	if remaining == 0 && !t.notified {
		t.notified = true
		notify = t.onExhausted
		telemetry.QuotaExhaustedTotal.Inc()
	}
	t.mu.Unlock()

	if notify != nil {
		t.log.Info("Question quota exhausted", zap.Int("max", t.max))
		notify(remaining)
	}
	return true, remaining
}

// Remaining reports the unspent allowance.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.used >= t.max {
		return 0
	}
	return t.max - t.used
}

// Exhausted reports whether the allowance is spent.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used >= t.max
}

// Used reports the spent count, for snapshotting.
func (t *Tracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Reset restores the full allowance. Only external authorities (daily cron,
// tier upgrade) call this; the dialogue machine never does.
func (t *Tracker) Reset(max int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if max > 0 {
		t.max = max
	}
	t.used = 0
	t.notified = false
}
