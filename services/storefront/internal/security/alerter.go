package security

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

const (
	OutcomeSuccess     = "success"
	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"
)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts security events per client IP in fixed windows and
// raises an alert when a rule's threshold is reached.
type AuditAlerter struct {
	redisClient *redis.Client
	prefix      string
	now         func() time.Time
	report      func(event, outcome, ip string, result AlertResult)
}

// NewAuditAlerter returns nil when client is nil; a nil alerter observes
// nothing.
func NewAuditAlerter(client *redis.Client, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bananastore:storefront:alerts"
	}
	return &AuditAlerter{
		redisClient: client,
		prefix:      prefix,
		now:         time.Now,
		report:      reportToSentry,
	}
}

// Observe records a security event. Triggered alerts are logged and reported
// exactly when the count reaches the threshold.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil || a.redisClient == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	windowMs := window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.redisClient, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	if count == threshold {
		slog.Warn("security_alert", "event", event, "outcome", outcome, "ip", ip, "count", count, "window", window.String())
		a.report(event, outcome, ip, result)
	}
	return result, nil
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	if outcome == OutcomeRateLimited {
		return 20, time.Minute, true
	}
	if outcome != OutcomeFail {
		return 0, 0, false
	}
	switch event {
	case "auth.login", "auth.register", "auth.verify_otp":
		return 10, 5 * time.Minute, true
	case "auth.discord.resume", "dashboard.discord.unlink":
		return 10, 10 * time.Minute, true
	case "checkout.create":
		return 15, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func reportToSentry(event, outcome, ip string, result AlertResult) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("security_event", event)
		scope.SetTag("outcome", outcome)
		scope.SetExtra("ip", ip)
		scope.SetExtra("count", strconv.FormatInt(result.Count, 10))
		scope.SetExtra("window", result.Window.String())
		sentry.CaptureMessage("security alert: " + event + " " + outcome)
	})
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
