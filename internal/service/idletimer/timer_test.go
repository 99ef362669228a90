package idletimer

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestLifecycle_WarningThenExtendThenExpire(t *testing.T) {
	// Arrange: duration=150ms, window=50ms, tick=10ms
	var warnings, expirations, extends int32
	cb := Callbacks{
		OnWarning: func(remaining int) { atomic.AddInt32(&warnings, 1) },
		OnExpire:  func() { atomic.AddInt32(&expirations, 1) },
		OnExtend:  func() { atomic.AddInt32(&extends, 1) },
	}
	timer := New(50*time.Millisecond, 10*time.Millisecond, cb, newTestLogger())
	defer timer.Stop()

	// Act: arm and wait past the warning deadline
	timer.Arm(150 * time.Millisecond)
	time.Sleep(120 * time.Millisecond)

	// Assert: warning phase reached, not expired yet
	if got := timer.Phase(); got != PhaseWarning {
		t.Fatalf("expected warning phase after deadline, got %s", got)
	}
	if atomic.LoadInt32(&warnings) == 0 {
		t.Error("expected at least one warning tick")
	}

	// Act: caller chooses to continue
	if !timer.Extend() {
		t.Fatal("expected Extend to succeed from warning phase")
	}
	if got := timer.Phase(); got != PhaseArmed {
		t.Fatalf("expected armed phase after extend, got %s", got)
	}
	if atomic.LoadInt32(&extends) != 1 {
		t.Errorf("expected 1 extend signal, got %d", atomic.LoadInt32(&extends))
	}

	// Act: no further activity for a full duration plus countdown
	time.Sleep(300 * time.Millisecond)

	// Assert: expired exactly once
	if got := timer.Phase(); got != PhaseExpired {
		t.Fatalf("expected expired phase, got %s", got)
	}
	if atomic.LoadInt32(&expirations) != 1 {
		t.Errorf("expected exactly 1 expiration, got %d", atomic.LoadInt32(&expirations))
	}
}

func TestResetOnActivity_CancelsCountdown(t *testing.T) {
	// Arrange
	var expirations int32
	timer := New(30*time.Millisecond, 10*time.Millisecond, Callbacks{
		OnExpire: func() { atomic.AddInt32(&expirations, 1) },
	}, newTestLogger())
	defer timer.Stop()

	timer.Arm(60 * time.Millisecond)
	time.Sleep(40 * time.Millisecond) // inside warning window

	// Act
	timer.ResetOnActivity()

	// Assert
	if got := timer.Phase(); got != PhaseArmed {
		t.Fatalf("expected armed phase after reset, got %s", got)
	}
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&expirations) != 0 {
		t.Error("reset must cancel the pending countdown")
	}
}

func TestExtend_RejectedOutsideWarning(t *testing.T) {
	// Arrange
	timer := New(30*time.Millisecond, 10*time.Millisecond, Callbacks{}, newTestLogger())
	defer timer.Stop()
	timer.Arm(200 * time.Millisecond)

	// Act / Assert
	if timer.Extend() {
		t.Error("expected Extend to be rejected while armed")
	}
}

func TestExpired_IsTerminalUntilRearmed(t *testing.T) {
	// Arrange
	var expirations int32
	timer := New(20*time.Millisecond, 5*time.Millisecond, Callbacks{
		OnExpire: func() { atomic.AddInt32(&expirations, 1) },
	}, newTestLogger())
	defer timer.Stop()

	timer.Arm(30 * time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	if got := timer.Phase(); got != PhaseExpired {
		t.Fatalf("expected expired, got %s", got)
	}

	// Act: activity after expiration is ignored
	timer.ResetOnActivity()

	// Assert
	if got := timer.Phase(); got != PhaseExpired {
		t.Errorf("expected expired to be terminal, got %s", got)
	}

	// Explicit rearm starts a fresh chain
	timer.Arm(30 * time.Millisecond)
	if got := timer.Phase(); got != PhaseArmed {
		t.Errorf("expected armed after explicit rearm, got %s", got)
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&expirations) != 2 {
		t.Errorf("expected a second expiration after rearm, got %d", atomic.LoadInt32(&expirations))
	}
}

func TestRearm_NoDuplicateExpirations(t *testing.T) {
	// Arrange
	var expirations int32
	timer := New(20*time.Millisecond, 5*time.Millisecond, Callbacks{
		OnExpire: func() { atomic.AddInt32(&expirations, 1) },
	}, newTestLogger())
	defer timer.Stop()

	// Act: rapid rearms must collapse into a single live chain
	for i := 0; i < 5; i++ {
		timer.Arm(40 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	// Assert
	if atomic.LoadInt32(&expirations) != 1 {
		t.Errorf("expected exactly 1 expiration from the live chain, got %d", atomic.LoadInt32(&expirations))
	}
}
