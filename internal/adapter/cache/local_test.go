package cache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestLocalCache_SetGetDelete(t *testing.T) {
	// Arrange
	c := NewLocalCache(time.Minute, newTestLogger())
	defer c.Close()
	ctx := context.Background()

	// Act
	if err := c.Set(ctx, "session:guest-1", "snapshot", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := c.Get(ctx, "session:guest-1")

	// Assert
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "snapshot" {
		t.Errorf("unexpected value %q", value)
	}

	if err := c.Delete(ctx, "session:guest-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "session:guest-1"); err == nil {
		t.Error("expected a miss after delete")
	}
}

func TestLocalCache_MarshalsStructValues(t *testing.T) {
	// Arrange
	c := NewLocalCache(time.Minute, newTestLogger())
	defer c.Close()
	ctx := context.Background()

	// Act
	if err := c.Set(ctx, "tier:caller-1", map[string]int{"quota": 5}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := c.Get(ctx, "tier:caller-1")

	// Assert
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != `{"quota":5}` {
		t.Errorf("expected JSON-encoded value, got %q", value)
	}
}

func TestLocalCache_ExpiredKeyIsMiss(t *testing.T) {
	// Arrange
	c := NewLocalCache(time.Minute, newTestLogger())
	defer c.Close()
	ctx := context.Background()
	if err := c.Set(ctx, "ratelimit:caller-1", "1", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Act
	time.Sleep(25 * time.Millisecond)
	_, err := c.Get(ctx, "ratelimit:caller-1")

	// Assert
	if err == nil {
		t.Error("expected the expired key to miss")
	}
}
