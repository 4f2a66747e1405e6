package panops

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/pansave/internal/pan"
)

// RetryPolicy is the caller-side retry for idempotent provider reads:
// listing, token fetch, login status and dlink resolution. Share
// verification and transfers are never wrapped.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy makes three attempts one second apart.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: time.Second}

// minBackoff keeps the constant backoff valid when Backoff is zero.
const minBackoff = time.Millisecond

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := max(p.Attempts, 1)

	return retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(max(p.Backoff, minBackoff)))
}

// Do runs fn until it succeeds, fails permanently or the attempts run out.
// Only errors pan.IsTransient accepts are retried.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) error {
	attempt := 0

	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++

		err := fn(ctx)
		if err == nil || !pan.IsTransient(err) {
			return err
		}

		if logger != nil {
			logger.Debug("transient provider error, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}

		return retry.RetryableError(err)
	})
}

// Retry is Do for calls that return a value.
func Retry[T any](
	ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(context.Context) (T, error),
) (T, error) {
	var out T

	err := p.Do(ctx, logger, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}

		out = v

		return nil
	})

	return out, err
}
