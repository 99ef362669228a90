package speech

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
	"github.com/seu-repo/siga-mi/internal/ports"
)

const defaultInterruptTimeout = 2 * time.Second

// Coordinator serializes "speak this" requests to the avatar subsystem.
// At most one utterance is in flight; a newer request pre-empts an older
// one. While the subsystem is not ready, only the most recent utterance is
// buffered and replayed exactly once on the ready transition.
//
// All state changes go through the coordinator's lock and deliveries run on
// their own goroutine, so subsystem callbacks never re-enter the dialogue
// machine.
type Coordinator struct {
	avatar           ports.AvatarClient
	session          string
	log              *zap.Logger
	interruptTimeout time.Duration

	mu       sync.Mutex
	ready    bool
	inFlight bool
	pending  *domain.SpeechRequest
	seq      uint64
	stopped  bool
}

// NewCoordinator binds a coordinator to one session token. Every command it
// hands to the avatar carries that token so subsystem events route back here.
func NewCoordinator(avatar ports.AvatarClient, session string, log *zap.Logger) *Coordinator {
	return &Coordinator{
		avatar:           avatar,
		session:          session,
		log:              log,
		interruptTimeout: defaultInterruptTimeout,
	}
}

// Request asks for text to be spoken. Never blocks the dialogue turn.
func (c *Coordinator) Request(text, language string) {
	if text == "" {
		return
	}
	req := domain.SpeechRequest{Text: text, Language: language, SessionToken: c.session}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if !c.ready {
		// Keep only the newest utterance; speaking stale text after a
		// readiness gap is worse than dropping it.
		c.pending = &req
		c.mu.Unlock()
		c.log.Debug("Avatar not ready, buffering utterance")
		telemetry.SpeechRequestsTotal.WithLabelValues("buffered").Inc()
		return
	}
	c.seq++
	seq := c.seq
	needInterrupt := c.inFlight
	c.inFlight = true
	c.mu.Unlock()

	go c.deliver(seq, req, needInterrupt)
}

// SetReady applies an asynchronous readiness transition from the subsystem.
func (c *Coordinator) SetReady(ready bool) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.ready = ready
	if !ready {
		c.inFlight = false
		c.mu.Unlock()
		return
	}
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	req := *c.pending
	c.pending = nil
	c.seq++
	seq := c.seq
	c.inFlight = true
	c.mu.Unlock()

	go c.deliver(seq, req, false)
}

// NotifyDone marks the current utterance finished. Invoked by the avatar
// adapter when playback completes.
func (c *Coordinator) NotifyDone() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// Stop cancels pending and in-flight speech synchronously. Used on session
// reset; no callback from the old session may reach a new one afterwards.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.pending = nil
	c.seq++
	wasInFlight := c.inFlight
	c.inFlight = false
	c.mu.Unlock()

	if wasInFlight {
		ctx, cancel := context.WithTimeout(context.Background(), c.interruptTimeout)
		defer cancel()
		if err := c.avatar.Interrupt(ctx, c.session); err != nil {
			c.log.Warn("Failed to interrupt avatar on stop", zap.Error(err))
		}
	}
}

func (c *Coordinator) deliver(seq uint64, req domain.SpeechRequest, needInterrupt bool) {
	if needInterrupt {
		ctx, cancel := context.WithTimeout(context.Background(), c.interruptTimeout)
		err := c.avatar.Interrupt(ctx, req.SessionToken)
		cancel()
		telemetry.SpeechInterruptsTotal.Inc()
		if err != nil {
			// Ack never came; the fixed timeout already elapsed, proceed.
			c.log.Warn("Interrupt not acknowledged", zap.Error(err))
		}
	}

	c.mu.Lock()
	if seq != c.seq || c.stopped {
		// A newer request pre-empted this one while we were interrupting.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.avatar.Speak(ctx, req.SessionToken, req.Text, req.Language)

	c.mu.Lock()
	if seq == c.seq && err != nil {
		// Non-fatal: leave state consistent so the next request proceeds.
		c.inFlight = false
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error("Failed to send utterance to avatar", zap.Error(err))
		telemetry.SpeechRequestsTotal.WithLabelValues("failed").Inc()
		return
	}
	telemetry.SpeechRequestsTotal.WithLabelValues("sent").Inc()
}
