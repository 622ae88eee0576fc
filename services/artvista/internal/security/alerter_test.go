package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T, rules ...Rule) *AuditAlerter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAuditAlerter(client, "test:alerts", rules...)
}

func TestLoginFailuresAlertOncePerWindow(t *testing.T) {
	alerter := newTestAlerter(t)
	ctx := context.Background()
	triggered := 0
	for i := 0; i < 12; i++ {
		result, err := alerter.Observe(ctx, "login", "fail", "203.0.113.5")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if result.Triggered {
			triggered++
			if result.Count != 10 || result.Rule.Event != "login" {
				t.Fatalf("unexpected alert %+v", result)
			}
		}
	}
	if triggered != 1 {
		t.Fatalf("expected exactly one alert, got %d", triggered)
	}

	other, err := alerter.Observe(ctx, "login", "fail", "198.51.100.7")
	if err != nil {
		t.Fatalf("observe other ip: %v", err)
	}
	if other.Count != 1 {
		t.Fatalf("counts must be per client ip, got %+v", other)
	}
}

func TestRateLimitedRuleMatchesAnyEvent(t *testing.T) {
	alerter := newTestAlerter(t, Rule{Outcome: "rate_limited", Threshold: 2, Window: time.Minute})
	ctx := context.Background()
	if r, _ := alerter.Observe(ctx, "signup", "rate_limited", "ip"); r.Triggered {
		t.Fatalf("first hit should not alert: %+v", r)
	}
	// Counters are kept per event, so a login burst starts its own count.
	if r, _ := alerter.Observe(ctx, "login", "rate_limited", "ip"); r.Count != 1 {
		t.Fatalf("expected separate login counter, got %+v", r)
	}
	r, err := alerter.Observe(ctx, "signup", "rate_limited", "ip")
	if err != nil || !r.Triggered {
		t.Fatalf("expected alert on second signup hit, got %+v err=%v", r, err)
	}
}

func TestUnmatchedEventsAreNotCounted(t *testing.T) {
	alerter := newTestAlerter(t)
	for _, tc := range []struct{ event, outcome string }{
		{"login", "success"},
		{"comment.add", "fail"},
	} {
		result, err := alerter.Observe(context.Background(), tc.event, tc.outcome, "127.0.0.1")
		if err != nil {
			t.Fatalf("observe %s/%s: %v", tc.event, tc.outcome, err)
		}
		if result.Triggered || result.Count != 0 {
			t.Fatalf("unexpected count for %s/%s: %+v", tc.event, tc.outcome, result)
		}
	}
}

func TestNilAlerter(t *testing.T) {
	var alerter *AuditAlerter
	if NewAuditAlerter(nil, "") != nil {
		t.Fatal("expected nil alerter without a client")
	}
	if _, err := alerter.Observe(context.Background(), "login", "fail", "ip"); err != nil {
		t.Fatalf("nil alerter observe: %v", err)
	}
}
