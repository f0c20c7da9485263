package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T) (*Alerter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	alerter := NewAlerter(client, "test:alerts")
	alerter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return alerter, mr
}

func TestAlerterTriggersOnceAtThreshold(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	triggered := 0
	for i := 0; i < 12; i++ {
		result, err := alerter.Observe(context.Background(), "login", "failure", "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if result.Triggered {
			triggered++
			if result.Count != 10 {
				t.Fatalf("triggered at count %d, want 10", result.Count)
			}
		}
	}
	if triggered != 1 {
		t.Fatalf("triggered %d times, want 1", triggered)
	}
}

func TestAlerterCountsPerIP(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	for i := 0; i < 4; i++ {
		if _, err := alerter.Observe(context.Background(), "payment_webhook", "failure", "10.0.0.1"); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	result, err := alerter.Observe(context.Background(), "payment_webhook", "failure", "10.0.0.2")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Count != 1 || result.Triggered {
		t.Fatalf("other ip result = %+v", result)
	}
}

func TestAlerterIgnoresUnknownRule(t *testing.T) {
	alerter, mr := newTestAlerter(t)
	result, err := alerter.Observe(context.Background(), "login", "success", "127.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 0 {
		t.Fatalf("unexpected result for success outcome: %+v", result)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("keys = %v, want none", keys)
	}
}

func TestNilAlerter(t *testing.T) {
	var alerter *Alerter
	if NewAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without client")
	}
	result, err := alerter.Observe(context.Background(), "login", "failure", "127.0.0.1")
	if err != nil || result.Triggered {
		t.Fatalf("nil alerter = %+v, %v", result, err)
	}
}
