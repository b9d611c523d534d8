package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"grimm.is/discoverd/internal/registry"
)

func fastConfig(attempts int) Config {
	return Config{Attempts: attempts, Interval: time.Millisecond}
}

func TestOnConflict_SucceedsOnLastAttempt(t *testing.T) {
	cfg := fastConfig(5)

	count := 0
	got, err := OnConflictWithResult(context.Background(), cfg, func() (string, error) {
		count++
		if count < cfg.Attempts {
			return "", registry.ErrConflict
		}
		return "patched", nil
	})

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != "patched" {
		t.Errorf("expected result %q, got %q", "patched", got)
	}
	if count != cfg.Attempts {
		t.Errorf("expected %d invocations, got %d", cfg.Attempts, count)
	}
}

func TestOnConflict_ExhaustsBound(t *testing.T) {
	cfg := fastConfig(4)

	conflict := fmt.Errorf("node abc: %w", registry.ErrConflict)
	count := 0
	err := OnConflict(context.Background(), cfg, func() error {
		count++
		return conflict
	})

	if err != conflict {
		t.Errorf("expected last conflict returned unmodified, got %v", err)
	}
	if count != cfg.Attempts {
		t.Errorf("expected %d invocations, got %d", cfg.Attempts, count)
	}
}

func TestOnConflict_NonConflictNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	count := 0
	err := OnConflict(context.Background(), fastConfig(10), func() error {
		count++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if count != 1 {
		t.Errorf("expected 1 invocation, got %d", count)
	}
}

func TestOnConflict_FixedInterval(t *testing.T) {
	cfg := Config{Attempts: 3, Interval: 20 * time.Millisecond}

	var stamps []time.Time
	_ = OnConflict(context.Background(), cfg, func() error {
		stamps = append(stamps, time.Now())
		return registry.ErrConflict
	})

	if len(stamps) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		if gap < cfg.Interval || gap > 10*cfg.Interval {
			t.Errorf("gap %d = %v, want about %v", i, gap, cfg.Interval)
		}
	}
}

func TestOnConflict_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{Attempts: 10, Interval: time.Hour}

	count := 0
	err := OnConflict(ctx, cfg, func() error {
		count++
		cancel()
		return registry.ErrConflict
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 invocation, got %d", count)
	}
}

func TestOnConflict_ZeroAttemptsRunsOnce(t *testing.T) {
	count := 0
	_ = OnConflict(context.Background(), Config{}, func() error {
		count++
		return registry.ErrConflict
	})
	if count != 1 {
		t.Errorf("expected 1 invocation, got %d", count)
	}
}
