package reliability

import (
	"context"
	"errors"
	"time"
)

type temporary interface {
	Temporary() bool
}

// Policy bounds how often an operation is repeated.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Retry runs op until it succeeds, returns an error that is not temporary, or
// the retry budget is spent. Waiting between attempts honors ctx.
func Retry(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		var t temporary
		if !errors.As(err, &t) || !t.Temporary() || attempt >= p.MaxRetries {
			return err
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
