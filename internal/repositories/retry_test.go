package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryOnceOnTransient(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(context.Background(), clk, func() error {
			calls++
			if calls == 1 {
				return Transient(errors.New("connection reset"))
			}
			return nil
		})
	}()

	require.NoError(t, clk.WaitAdvance(RetryDelay, time.Second, 1))
	require.NoError(t, <-done)
	assert.Equal(t, 2, calls)
}

func TestRetryGivesUpAfterSecondTransient(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(context.Background(), clk, func() error {
			calls++
			return Transient(errors.New("connection reset"))
		})
	}()

	require.NoError(t, clk.WaitAdvance(RetryDelay, time.Second, 1))
	err := <-done
	assert.True(t, errors.Is(err, ErrTransient))
	assert.Equal(t, 2, calls)
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), testclock.NewClock(time.Now()), func() error {
		calls++
		return ErrMessageNotFound
	})
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.Equal(t, 1, calls)
}
