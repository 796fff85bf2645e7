// Package poll provides a bounded wait-until-condition primitive. It knows
// nothing about retries; callers compose it with pkg/retry when an operation
// should be attempted more than once.
package poll

import (
	"context"
	"time"
)

// Condition reports whether the awaited state has been reached. A non-nil
// error aborts the wait.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then every interval until it returns
// true, returns an error, or timeout elapses. A timeout is not an error: the
// result is (false, nil). Cancellation of ctx returns ctx.Err().
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) (bool, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}
