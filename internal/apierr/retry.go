package apierr

import (
	"context"
	"time"
)

// Policy bounds the retry loop for transient and server errors.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep is injectable for tests. Nil means a real context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn under the retry policy. Transient and server errors are retried
// with base*2^attempt backoff up to MaxAttempts, then surfaced as
// RetryExhausted. Everything else (rate limits, auth, forbidden) aborts
// immediately; auth expiry is the executor's business, not this wrapper's.
func Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		last = err
		if attempt == p.MaxAttempts-1 {
			break
		}
		wait := p.BaseDelay * (1 << attempt)
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return &Error{Kind: KindRetryExhausted, Op: op, Message: "retry attempts exhausted", Err: last}
}
