package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastGuard(attempts int) Guard {
	g := NewGuard(attempts)
	g.InitialInterval = time.Millisecond
	g.MaxInterval = time.Millisecond
	return g
}

func TestGuardRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastGuard(3).Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGuardGivesUp(t *testing.T) {
	calls := 0
	err := fastGuard(3).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("down")
	})
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestGuardStopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	err := fastGuard(5).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fastGuard(2), "op", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "idle", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "idle", v)
}
