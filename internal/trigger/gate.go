package trigger

import (
	"strings"
	"time"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/rules"
)

// Rejection reasons recorded on runs that did not pass the gate.
const (
	ReasonEmpty          = "empty_rule"
	ReasonPermission     = "permission"
	ReasonGlobalCooldown = "global_cooldown"
	ReasonUserCooldown   = "user_cooldown"
)

// Admit decides whether rule may run for ev. Test mode skips permission and
// cooldown state entirely; an empty step list never runs.
func Admit(c *Cooldowns, key string, rule rules.Rule, ev *core.Event, testMode bool, now time.Time) (bool, string) {
	if len(rule.Steps) == 0 {
		return false, ReasonEmpty
	}
	if testMode || !rule.Gated() {
		return true, ""
	}

	gate := rule.Gate
	if !Allowed(gate.Permissions, ev.Tags) {
		return false, ReasonPermission
	}
	return c.admit(key, ev.UserID(),
		time.Duration(gate.Cooldown.Global)*time.Second,
		time.Duration(gate.Cooldown.User)*time.Second,
		now)
}

// Allowed evaluates a permission policy against the chatter's tags.
func Allowed(p rules.Permissions, tags core.Tags) bool {
	if p.All {
		return true
	}

	badges := parseBadges(tags["badges"])
	switch {
	case p.Broadcaster && badges["broadcaster"]:
		return true
	case p.Mods && (badges["moderator"] || tags.Flag("mod")):
		return true
	case p.VIPs && (badges["vip"] || tags.Flag("vip")):
		return true
	case p.Subs && (badges["subscriber"] || badges["founder"] || tags.Flag("subscriber")):
		return true
	}

	if p.Users == "" {
		return false
	}
	login := strings.ToLower(tags["username"])
	if login == "" {
		login = strings.ToLower(tags["display-name"])
	}
	if login == "" {
		return false
	}
	for _, u := range splitLogins(p.Users) {
		if u == login {
			return true
		}
	}
	return false
}

// parseBadges reads the IRC badges tag ("broadcaster/1,subscriber/12").
func parseBadges(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name, _, _ := strings.Cut(part, "/")
		if name = strings.TrimSpace(name); name != "" {
			out[name] = true
		}
	}
	return out
}

func splitLogins(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
}
