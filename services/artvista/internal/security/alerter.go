// Package security counts failed security events per client and flags bursts.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

const defaultAlertPrefix = "artvista:alerts"

// Rule raises an alert once a client produces Threshold matching events
// within Window. An empty Event matches any event with the outcome.
type Rule struct {
	Event     string
	Outcome   string
	Threshold int64
	Window    time.Duration
}

// DefaultRules guard the credential endpoints and artwork deletion.
var DefaultRules = []Rule{
	{Outcome: "rate_limited", Threshold: 20, Window: time.Minute},
	{Event: "login", Outcome: "fail", Threshold: 10, Window: 5 * time.Minute},
	{Event: "signup", Outcome: "fail", Threshold: 10, Window: 5 * time.Minute},
	{Event: "logout", Outcome: "fail", Threshold: 25, Window: 5 * time.Minute},
	{Event: "authorize", Outcome: "fail", Threshold: 25, Window: 5 * time.Minute},
	{Event: "artwork.delete", Outcome: "fail", Threshold: 15, Window: 5 * time.Minute},
}

// AlertResult is the outcome of one observation.
type AlertResult struct {
	// Triggered is set only by the observation that reaches the threshold,
	// so a burst is reported once per window.
	Triggered bool
	Count     int64
	Rule      Rule
}

// AuditAlerter keeps per-client counters in Redis. A nil *AuditAlerter
// observes nothing.
type AuditAlerter struct {
	client redis.UniversalClient
	prefix string
	rules  []Rule
}

// NewAuditAlerter returns nil when client is nil. No rules means DefaultRules.
func NewAuditAlerter(client redis.UniversalClient, prefix string, rules ...Rule) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultAlertPrefix
	}
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &AuditAlerter{client: client, prefix: prefix, rules: rules}
}

// Observe counts the event for ip under the first matching rule.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	if a == nil {
		return AlertResult{}, nil
	}
	rule, ok := a.match(strings.TrimSpace(event), strings.TrimSpace(outcome))
	if !ok {
		return AlertResult{}, nil
	}
	windowMs := rule.Window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, keySegment(event), keySegment(outcome), keySegment(ip), slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return AlertResult{}, err
	}
	return AlertResult{Triggered: count == rule.Threshold, Count: count, Rule: rule}, nil
}

func (a *AuditAlerter) match(event, outcome string) (Rule, bool) {
	for _, r := range a.rules {
		if r.Outcome != outcome || r.Threshold <= 0 || r.Window <= 0 {
			continue
		}
		if r.Event == "" || r.Event == event {
			return r, true
		}
	}
	return Rule{}, false
}

func keySegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
