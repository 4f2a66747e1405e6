package panops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/pansave/internal/pan"
)

func TestRetryPolicy_Do(t *testing.T) {
	transient := &pan.ProviderError{Op: "list", StatusCode: http.StatusServiceUnavailable, Err: pan.ErrProvider}
	permanent := &pan.ProviderError{Op: "list", StatusCode: http.StatusOK, Errno: 12, Err: pan.ErrProvider}

	tests := []struct {
		name      string
		errs      []error // returned by successive calls; nil after the end
		wantCalls int
		wantErr   error
	}{
		{name: "success first try", wantCalls: 1},
		{name: "transient then success", errs: []error{transient, transient}, wantCalls: 3},
		{name: "transient exhausted", errs: []error{transient, transient, transient, transient}, wantCalls: 3, wantErr: transient},
		{name: "network error retried", errs: []error{fmt.Errorf("%w: reset", pan.ErrNetwork)}, wantCalls: 2},
		{name: "permanent not retried", errs: []error{permanent}, wantCalls: 1, wantErr: permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0

			err := fastRetry.Do(t.Context(), testLogger(t), "list", func(context.Context) error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}

				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryPolicy_ZeroValueMakesOneAttempt(t *testing.T) {
	calls := 0

	err := RetryPolicy{}.Do(t.Context(), nil, "op", func(context.Context) error {
		calls++
		return fmt.Errorf("%w: down", pan.ErrNetwork)
	})

	require.ErrorIs(t, err, pan.ErrNetwork)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	policy := RetryPolicy{Attempts: 10, Backoff: time.Hour}
	calls := 0

	err := policy.Do(ctx, nil, "op", func(context.Context) error {
		calls++
		cancel()

		return fmt.Errorf("%w: down", pan.ErrNetwork)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ReturnsValue(t *testing.T) {
	calls := 0

	got, err := Retry(t.Context(), fastRetry, testLogger(t), "token", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("%w: timeout", pan.ErrNetwork)
		}

		return "tok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "tok", got)
	assert.Equal(t, 2, calls)
}

func TestRetry_PlainErrorNotRetried(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	_, err := Retry(t.Context(), fastRetry, nil, "op", func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
