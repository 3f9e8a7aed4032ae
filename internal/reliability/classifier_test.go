package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{408, true},
		{422, false},
		{425, true},
		{429, true},
		{500, true},
		{501, false},
		{503, true},
		{505, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RetryableStatus(tc.code), "status %d", tc.code)
	}
}

func TestPolicyBackoffDoublesUpToCap(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 700 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 700*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 700*time.Millisecond, p.Backoff(50))
}

type statusErr struct{ retry bool }

func (e statusErr) Error() string   { return "status" }
func (e statusErr) Temporary() bool { return e.retry }

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 2 {
			return statusErr{retry: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryDoesNotRepeatPermanentErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return statusErr{retry: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		return statusErr{retry: true}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	err := Retry(ctx, p, func(context.Context) error { return statusErr{retry: true} })
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
