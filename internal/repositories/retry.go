package repositories

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

// RetryDelay is the pause before the single retry of a transient failure.
const RetryDelay = 100 * time.Millisecond

// Retry runs fn and, when it fails with ErrTransient, runs it once more.
// Any other failure is returned immediately.
func Retry(ctx context.Context, clk clock.Clock, fn func() error) error {
	if clk == nil {
		clk = clock.WallClock
	}
	err := retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return !errors.Is(err, ErrTransient)
		},
		Attempts: 2,
		Delay:    RetryDelay,
		Clock:    clk,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}
