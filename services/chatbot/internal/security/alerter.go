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

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Rule      string
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter aggregates security events per client IP and reports when a
// rule's threshold is reached inside its window.
type AuditAlerter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewAuditAlerter creates an alerter on an existing Redis client.
// A nil client yields a nil alerter, which observes nothing.
func NewAuditAlerter(client redis.UniversalClient, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "chatbot:auth:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}
}

// Observe records a security event and returns whether the alert threshold is reached.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil || a.client == nil {
		return result, nil
	}
	rule, ok := lookupRule(event, outcome)
	if !ok {
		return result, nil
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	windowMs := rule.window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Rule = rule.name
	result.Count = count
	result.Threshold = rule.threshold
	result.Window = rule.window
	result.Triggered = count >= rule.threshold
	return result, nil
}

type alertRule struct {
	name      string
	threshold int64
	window    time.Duration
}

// alertRules is keyed by "event|outcome"; "*|outcome" matches any event.
var alertRules = map[string]alertRule{
	"*|rate_limited":              {"throttled_client", 20, time.Minute},
	"auth.login|fail":             {"credential_guessing", 10, 5 * time.Minute},
	"auth.signup|fail":            {"signup_abuse", 10, 5 * time.Minute},
	"auth.login|locked":           {"locked_account_probing", 3, 15 * time.Minute},
	"auth.forgot_password|fail":   {"reset_enumeration", 15, 5 * time.Minute},
	"auth.verify_otp|fail":        {"otp_guessing", 15, 5 * time.Minute},
	"auth.reset_password|fail":    {"otp_guessing", 15, 5 * time.Minute},
	"auth.authorize|fail":         {"token_replay", 25, 5 * time.Minute},
	"chat.conversation|not_found": {"conversation_enumeration", 30, 5 * time.Minute},
}

func lookupRule(event, outcome string) (alertRule, bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	if rule, ok := alertRules[event+"|"+outcome]; ok {
		return rule, true
	}
	rule, ok := alertRules["*|"+outcome]
	return rule, ok
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
