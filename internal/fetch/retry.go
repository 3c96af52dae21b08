package fetch

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the attempts made for one download.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration // Fixed wait between attempts
}

// DefaultRetryPolicy matches the Europe PMC mirror's tolerance for retries.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Delay: 10 * time.Second}

// Do calls fn until it succeeds, returns a not-found error, the attempts are
// exhausted or ctx is done. fn receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if IsNotFound(err) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}
