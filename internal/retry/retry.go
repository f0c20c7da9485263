// Package retry bounds retries of idempotent outbound calls.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy is an exponential backoff capped at Attempts total calls. A
// positive Budget bounds all attempts and backoff together.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Budget    time.Duration
}

// DefaultBudget keeps a retried call inside the API server's 30s write
// timeout.
const DefaultBudget = 25 * time.Second

// Default is used for outbound GETs and generation calls: 3 attempts,
// 200ms then 400ms between them, all within DefaultBudget.
var Default = Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond, Budget: DefaultBudget}

// Do calls fn until it succeeds, returns an error not marked with
// Retryable, the attempts run out or ctx ends. The last error is returned
// unwrapped.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	if p.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Budget)
		defer cancel()
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	backoff := goretry.WithMaxRetries(uint64(attempts-1), goretry.NewExponential(base))
	return goretry.Do(ctx, backoff, fn)
}

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return goretry.RetryableError(err)
}
