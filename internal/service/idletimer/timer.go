package idletimer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
)

// Phase of the idle timer chain.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseArmed   Phase = "armed"
	PhaseWarning Phase = "warning"
	PhaseExpired Phase = "expired"
)

// Callbacks observe the timer chain. They are invoked outside the timer lock
// and must only schedule work, never mutate session state directly.
type Callbacks struct {
	// OnWarning fires once per second while the countdown runs, with the
	// remaining ticks.
	OnWarning func(remaining int)
	// OnExpire fires exactly once when the countdown reaches zero.
	OnExpire func()
	// OnExtend fires when the caller explicitly chose to continue from the
	// warning phase. Analytics only.
	OnExtend func()
}

// Timer tears down the avatar session after caller inactivity, with a
// cancellable warning countdown. One timer chain exists per session;
// re-arming cancels any previously scheduled chain first, so a stale timer
// can never fire twice.
type Timer struct {
	mu       sync.Mutex
	phase    Phase
	duration time.Duration
	window   time.Duration
	tick     time.Duration
	gen      uint64
	warnTmr  *time.Timer
	ticker   *time.Ticker
	stopTick chan struct{}
	cb       Callbacks
	log      *zap.Logger
}

// New creates an unarmed timer. window is the warning countdown length;
// tick its granularity (one second in production, shorter in tests).
func New(window, tick time.Duration, cb Callbacks, log *zap.Logger) *Timer {
	if tick <= 0 {
		tick = time.Second
	}
	return &Timer{
		phase:  PhaseIdle,
		window: window,
		tick:   tick,
		cb:     cb,
		log:    log,
	}
}

// Arm schedules the warning to start after duration-window. Any previously
// scheduled chain is cancelled first.
func (t *Timer) Arm(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armLocked(duration)
}

func (t *Timer) armLocked(duration time.Duration) {
	t.cancelLocked()
	t.duration = duration
	t.phase = PhaseArmed
	t.gen++
	gen := t.gen

	delay := duration - t.window
	if delay < 0 {
		delay = 0
	}
	t.warnTmr = time.AfterFunc(delay, func() { t.enterWarning(gen) })
}

// ResetOnActivity returns to Armed with a fresh deadline. Callable from any
// non-expired phase; a no-op once expired and on an unarmed timer.
func (t *Timer) ResetOnActivity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseExpired || t.phase == PhaseIdle {
		return
	}
	t.armLocked(t.duration)
}

// Extend is the caller-invoked variant of ResetOnActivity, valid from the
// warning phase only. It additionally emits the continue signal.
func (t *Timer) Extend() bool {
	t.mu.Lock()
	if t.phase != PhaseWarning {
		t.mu.Unlock()
		return false
	}
	t.armLocked(t.duration)
	onExtend := t.cb.OnExtend
	t.mu.Unlock()

	if onExtend != nil {
		onExtend()
	}
	return true
}

// Stop cancels the chain entirely, returning to Idle. Used on session reset.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.phase = PhaseIdle
	t.gen++
}

// Phase reports the current phase.
func (t *Timer) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

func (t *Timer) cancelLocked() {
	if t.warnTmr != nil {
		t.warnTmr.Stop()
		t.warnTmr = nil
	}
	if t.stopTick != nil {
		close(t.stopTick)
		t.stopTick = nil
	}
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}

func (t *Timer) enterWarning(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.phase != PhaseArmed {
		t.mu.Unlock()
		return
	}
	t.phase = PhaseWarning
	t.ticker = time.NewTicker(t.tick)
	t.stopTick = make(chan struct{})

	ticker := t.ticker
	stop := t.stopTick
	remaining := int(t.window / t.tick)
	onWarning := t.cb.OnWarning
	t.mu.Unlock()

	if onWarning != nil {
		onWarning(remaining)
	}

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				remaining--
				if remaining <= 0 {
					t.expire(gen)
					return
				}
				if onWarning != nil {
					onWarning(remaining)
				}
			}
		}
	}()
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.phase != PhaseWarning {
		t.mu.Unlock()
		return
	}
	t.cancelLocked()
	t.phase = PhaseExpired
	onExpire := t.cb.OnExpire
	t.mu.Unlock()

	telemetry.IdleExpirationsTotal.Inc()
	t.log.Info("Idle timer expired")
	if onExpire != nil {
		onExpire()
	}
}
