// Package retry guards node registry mutations against optimistic
// concurrency conflicts.
package retry

import (
	"context"
	"errors"
	"time"

	"grimm.is/discoverd/internal/registry"
)

// Config bounds conflict retries. Attempts counts total invocations,
// including the first one.
type Config struct {
	Attempts int
	Interval time.Duration
}

// DefaultConfig returns the registry defaults: 10 attempts, 2s apart.
func DefaultConfig() Config {
	return Config{
		Attempts: 10,
		Interval: 2 * time.Second,
	}
}

// OnConflict runs fn, retrying while it fails with registry.ErrConflict.
// The sleep between attempts is fixed. When the bound is exhausted the
// last conflict is returned as is; any other error is returned at once.
func OnConflict(ctx context.Context, cfg Config, fn func() error) error {
	_, err := OnConflictWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// OnConflictWithResult is OnConflict for calls that return a value.
func OnConflictWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var result T
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errors.Is(err, registry.ErrConflict) {
			return result, err
		}

		// No sleep after the final attempt
		if attempt == attempts-1 {
			break
		}

		if err := sleep(ctx, cfg.Interval); err != nil {
			return result, err
		}
	}

	return result, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
