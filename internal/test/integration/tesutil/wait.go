package testutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

// DefaultWaitTimeout bounds how long WaitFor polls.
const DefaultWaitTimeout = 10 * time.Second

// ErrWaitTimeout is returned when the condition never held.
var ErrWaitTimeout = errors.New("wait timeout")

// WaitFor polls cond until it reports done, returns an error, or timeout
// passes.
func WaitFor(
	ctx context.Context,
	t *testing.T,
	desc string,
	timeout time.Duration,
	cond func(ctx context.Context) (bool, error),
) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt%20 == 0 {
			t.Logf("still waiting for %s (attempt %d)", desc, attempt)
		}

		select {
		case <-ctx.Done():
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
