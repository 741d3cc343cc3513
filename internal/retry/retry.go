// Package retry runs communication calls through a bounded retry guard.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"testfleet/pkg/logging"
)

// Guard retries an operation a fixed number of times with exponential
// backoff between attempts.
type Guard struct {
	Attempts        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NewGuard returns a guard allowing attempts tries in total.
func NewGuard(attempts int) Guard {
	if attempts < 1 {
		attempts = 1
	}
	return Guard{
		Attempts:        uint(attempts),
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// used up or ctx ends. The last error is returned.
func (g Guard) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	_, err := Value(ctx, g, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, g Guard, name string, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.InitialInterval
	b.MaxInterval = g.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && attempt < int(g.Attempts) {
			logging.Debug("Retry", "%s failed on attempt %d: %v", name, attempt, err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.Attempts),
		backoff.WithMaxElapsedTime(0),
	)
}
