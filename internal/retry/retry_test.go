package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyRetriesRetryableErrors(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	boom := errors.New("upstream 503")
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(boom)
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error to surface, got %v", err)
	}
}

func TestPolicyStopsOnPermanentError(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	if calls != 1 || err == nil {
		t.Fatalf("expected a single failing attempt, calls=%d err=%v", calls, err)
	}
}

func TestPolicySucceedsAfterTransientFailure(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return Retryable(errors.New("connection reset"))
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second attempt, calls=%d err=%v", calls, err)
	}
}

func TestRetryableNil(t *testing.T) {
	if Retryable(nil) != nil {
		t.Fatalf("Retryable(nil) should be nil")
	}
}

func TestPolicyBudgetBoundsAllAttempts(t *testing.T) {
	p := Policy{Attempts: 5, BaseDelay: time.Millisecond, Budget: 50 * time.Millisecond}
	calls := 0
	start := time.Now()
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return Retryable(ctx.Err())
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("budget not enforced, took %v", elapsed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no attempt after the budget ran out, got %d", calls)
	}
}

func TestDefaultFitsWriteTimeout(t *testing.T) {
	if Default.Budget <= 0 || Default.Budget >= 30*time.Second {
		t.Fatalf("default budget = %v, want within the 30s write timeout", Default.Budget)
	}
}
