package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
	"github.com/seu-repo/siga-mi/internal/ports"
	"github.com/seu-repo/siga-mi/internal/service/idletimer"
	"github.com/seu-repo/siga-mi/internal/service/quota"
	"github.com/seu-repo/siga-mi/internal/service/speech"
)

// Runtime bundles the per-session moving parts that live outside the
// persisted snapshot: the idle timer chain, the speech coordinator and the
// quota tracker.
type Runtime struct {
	Timer  *idletimer.Timer
	Speech *speech.Coordinator
	Quota  *quota.Tracker
}

// Active is a live session plus its runtime. The generation counter guards
// against stale asynchronous completions: a goroutine captures Generation()
// before suspending and its result is discarded if the value moved on.
type Active struct {
	Mu      sync.Mutex
	S       *domain.Session
	Runtime *Runtime

	generation uint64
}

func (a *Active) Generation() uint64 {
	return atomic.LoadUint64(&a.generation)
}

// Stale reports whether gen belongs to a superseded lifetime of this session.
func (a *Active) Stale(gen uint64) bool {
	return atomic.LoadUint64(&a.generation) != gen
}

func (a *Active) bumpGeneration() {
	atomic.AddUint64(&a.generation, 1)
}

// RuntimeFactory builds the runtime for a newly resolved session.
type RuntimeFactory func(callerID string) *Runtime

// Manager owns the caller-keyed registry of active sessions and their
// persistence. Snapshots go through the session store on every transcript
// mutation; restore happens transparently on the next Resolve.
type Manager struct {
	store      ports.SessionStore
	newRuntime RuntimeFactory
	log        *zap.Logger

	mu     sync.Mutex
	active map[string]*Active
}

func NewManager(store ports.SessionStore, newRuntime RuntimeFactory, log *zap.Logger) *Manager {
	return &Manager{
		store:      store,
		newRuntime: newRuntime,
		log:        log,
		active:     make(map[string]*Active),
	}
}

// Resolve returns the live session for callerID, restoring a persisted
// snapshot if one exists, otherwise creating a fresh session via fresh.
func (m *Manager) Resolve(ctx context.Context, callerID string, fresh func() *domain.Session) (*Active, error) {
	m.mu.Lock()
	if a, ok := m.active[callerID]; ok {
		m.mu.Unlock()
		return a, nil
	}
	m.mu.Unlock()

	s, err := m.store.Load(ctx, callerID)
	if err != nil {
		m.log.Warn("Failed to load session snapshot, starting fresh",
			zap.String("caller_id", callerID),
			zap.Error(err))
		s = nil
	}
	restored := s != nil
	if s == nil {
		s = fresh()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Lost the race against a concurrent Resolve for the same caller.
	if a, ok := m.active[callerID]; ok {
		return a, nil
	}

	a := &Active{
		S:          s,
		Runtime:    m.newRuntime(callerID),
		generation: 1,
	}
	// Align the tracker with the snapshot's tier ceiling and spent count.
	a.Runtime.Quota.Reset(s.Quota.Max)
	a.Runtime.Quota.Restore(s.Quota.Used)
	if restored {
		m.log.Info("Session restored from snapshot",
			zap.String("caller_id", callerID),
			zap.String("state", string(s.State)),
			zap.Int("transcript_len", len(s.Transcript)))
	}
	m.active[callerID] = a
	telemetry.ActiveSessions.Inc()
	return a, nil
}

// Lookup returns the live session for callerID without creating one.
func (m *Manager) Lookup(callerID string) (*Active, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[callerID]
	return a, ok
}

// Range calls fn for every live session. The registry lock is released
// before fn runs so fn may take per-session locks freely.
func (m *Manager) Range(fn func(a *Active)) {
	m.mu.Lock()
	all := make([]*Active, 0, len(m.active))
	for _, a := range m.active {
		all = append(all, a)
	}
	m.mu.Unlock()

	for _, a := range all {
		fn(a)
	}
}

// Save snapshots the session. Callers hold a.Mu across the transcript
// mutation and the Save so snapshots never interleave.
func (m *Manager) Save(ctx context.Context, a *Active) error {
	if err := m.store.Save(ctx, a.S); err != nil {
		return fmt.Errorf("saving session snapshot: %w", err)
	}
	return nil
}

// Reset tears down the caller's session on identity change or an explicit
// fresh start. The timer chain and any in-flight speech are cancelled
// synchronously before the registry entry is dropped, and the generation is
// bumped so completions still in flight cannot touch a successor session.
func (m *Manager) Reset(ctx context.Context, callerID string) error {
	m.mu.Lock()
	a, ok := m.active[callerID]
	delete(m.active, callerID)
	m.mu.Unlock()

	if ok {
		a.bumpGeneration()
		a.Runtime.Timer.Stop()
		a.Runtime.Speech.Stop()
		telemetry.ActiveSessions.Dec()
	}

	if err := m.store.Delete(ctx, callerID); err != nil {
		return fmt.Errorf("deleting session snapshot: %w", err)
	}
	m.log.Info("Session reset", zap.String("caller_id", callerID))
	return nil
}

// Shutdown stops every live session's runtime. Used on server drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Active, 0, len(m.active))
	for _, a := range m.active {
		all = append(all, a)
	}
	m.active = make(map[string]*Active)
	m.mu.Unlock()

	for _, a := range all {
		a.bumpGeneration()
		a.Runtime.Timer.Stop()
		a.Runtime.Speech.Stop()
		telemetry.ActiveSessions.Dec()
	}
}
