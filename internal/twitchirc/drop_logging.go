package twitchirc

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	dropSummaryInterval = 5 * time.Second
	dropSampleMaxLen    = 96
	dropChannelMaxLen   = 32
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

// lineSummary is the loggable shape of a dropped line. Every field has
// already been scrubbed.
type lineSummary struct {
	command string
	channel string
	sample  string
}

type dropKey struct {
	reason  string
	command string
}

// dropBucket keeps the first channel and sample seen for a key.
type dropBucket struct {
	count   int
	channel string
	sample  string
}

// dropLogger counts every dropped line in metrics and writes one log line per
// reason each interval. Protocol chatter is counted but never logged.
type dropLogger struct {
	verbose  bool
	interval time.Duration
	due      time.Time
	buckets  map[dropKey]*dropBucket
	metrics  *Metrics
}

func newDropLogger(now time.Time, verbose bool, interval time.Duration, metrics *Metrics) *dropLogger {
	if interval <= 0 {
		interval = dropSummaryInterval
	}
	return &dropLogger{
		verbose:  verbose,
		interval: interval,
		due:      now.Add(interval),
		buckets:  make(map[dropKey]*dropBucket),
		metrics:  metrics,
	}
}

func (d *dropLogger) note(now time.Time, reason, raw string) {
	if d == nil {
		return
	}
	d.metrics.incDropped(reason)

	s := describeLine(raw)
	if quiet(reason, s.command) {
		return
	}
	if d.verbose {
		slog.Debug("twitchirc: dropped line", "reason", reason, "command", s.command, "channel", s.channel, "sample", s.sample)
	}

	key := dropKey{reason: reason, command: s.command}
	b, ok := d.buckets[key]
	if !ok {
		b = &dropBucket{channel: s.channel, sample: s.sample}
		d.buckets[key] = b
	}
	b.count++

	if !now.Before(d.due) {
		d.flush(now)
	}
}

// reasonTotal sums a reason across commands.
func (d *dropLogger) reasonTotal(reason string) int {
	n := 0
	for k, b := range d.buckets {
		if k.reason == reason {
			n += b.count
		}
	}
	return n
}

func (d *dropLogger) flush(now time.Time) {
	if d == nil {
		return
	}
	d.due = now.Add(d.interval)
	if len(d.buckets) == 0 {
		return
	}

	keys := make([]dropKey, 0, len(d.buckets))
	for k := range d.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].reason != keys[j].reason {
			return keys[i].reason < keys[j].reason
		}
		return keys[i].command < keys[j].command
	})

	for start := 0; start < len(keys); {
		reason := keys[start].reason
		end := start
		total := 0
		var counts, samples []string
		for ; end < len(keys) && keys[end].reason == reason; end++ {
			k, b := keys[end], d.buckets[keys[end]]
			total += b.count
			counts = append(counts, fmt.Sprintf("%s:%d", k.command, b.count))
			samples = append(samples, k.command+":'"+strings.TrimSpace(b.channel+" "+b.sample)+"'")
		}
		slog.Info("twitchirc: dropped_"+reason,
			"total", total,
			"commands", "{"+strings.Join(counts, " ")+"}",
			"samples", "{"+strings.Join(samples, " ")+"}",
		)
		start = end
	}
	clear(d.buckets)
}

func describeLine(raw string) lineSummary {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return lineSummary{command: "UNKNOWN"}
	}
	l, ok := parseLine(raw)
	if !ok {
		return lineSummary{command: "UNKNOWN", sample: scrub(raw, dropSampleMaxLen)}
	}

	var channel string
	for _, p := range l.params {
		if strings.HasPrefix(p, "#") {
			channel = p
			break
		}
	}

	var sample string
	switch {
	case l.command == "USERNOTICE" && l.tags["msg-id"] != "":
		sample = "msg-id=" + l.tags["msg-id"]
	case strings.TrimSpace(l.trailing) != "":
		sample = l.trailing
	case channel != "":
		sample = channel
	default:
		sample = strings.Join(l.params, " ")
	}

	return lineSummary{
		command: l.command,
		channel: scrub(channel, dropChannelMaxLen),
		sample:  scrub(sample, dropSampleMaxLen),
	}
}

// scrub flattens whitespace, hides credentials and clips to max bytes.
func scrub(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	s = redactSecrets(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func redactSecrets(s string) string {
	if upper := strings.ToUpper(s); upper == "PASS" || strings.HasPrefix(upper, "PASS ") {
		return "PASS [REDACTED]"
	}
	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	return longTokenRe.ReplaceAllString(s, "[REDACTED]")
}

func readTwitchDropDebugEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("GNASTY_TWITCH_DEBUG_DROPS"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// quiet reports routine protocol chatter that is not worth a summary.
func quiet(reason, command string) bool {
	if reason != dropCommand {
		return false
	}
	switch command {
	case "CAP", "JOIN", "PART", "PONG", "ROOMSTATE", "USERSTATE", "GLOBALUSERSTATE", "CLEARCHAT", "CLEARMSG", "HOSTTARGET":
		return true
	}
	// numeric replies (001, 353, ...)
	return len(command) == 3 && command[0] >= '0' && command[0] <= '9'
}
