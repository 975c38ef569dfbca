package trigger

import (
	"sort"
	"sync"
	"time"
)

// Cooldowns tracks global (per rule key) and per-user expiries. An entry is
// blocking while its expiry is after now; stale entries are never evicted
// because every read compares against the clock.
type Cooldowns struct {
	mu     sync.Mutex
	global map[string]time.Time
	user   map[string]time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{
		global: make(map[string]time.Time),
		user:   make(map[string]time.Time),
	}
}

func userKey(key, userID string) string {
	return key + "_" + userID
}

// admit runs the global then user cooldown checks for key and re-arms
// whichever windows are configured when the check passes.
func (c *Cooldowns) admit(key, userID string, global, user time.Duration, now time.Time) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if exp, ok := c.global[key]; ok && exp.After(now) {
		return false, ReasonGlobalCooldown
	}
	if global > 0 {
		c.global[key] = now.Add(global)
	}

	uk := userKey(key, userID)
	if exp, ok := c.user[uk]; ok && exp.After(now) {
		return false, ReasonUserCooldown
	}
	if user > 0 {
		c.user[uk] = now.Add(user)
	}
	return true, ""
}

// Expiry is one active cooldown window.
type Expiry struct {
	Key       string        `json:"key"`
	Scope     string        `json:"scope"`
	ExpiresAt time.Time     `json:"expires_at"`
	Remaining time.Duration `json:"remaining_ns"`
}

// Snapshot lists the windows still blocking at now, sorted by key.
func (c *Cooldowns) Snapshot(now time.Time) []Expiry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Expiry
	for k, exp := range c.global {
		if exp.After(now) {
			out = append(out, Expiry{Key: k, Scope: "global", ExpiresAt: exp, Remaining: exp.Sub(now)})
		}
	}
	for k, exp := range c.user {
		if exp.After(now) {
			out = append(out, Expiry{Key: k, Scope: "user", ExpiresAt: exp, Remaining: exp.Sub(now)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key == out[j].Key {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Reset forgets every window.
func (c *Cooldowns) Reset() {
	c.mu.Lock()
	c.global = make(map[string]time.Time)
	c.user = make(map[string]time.Time)
	c.mu.Unlock()
}
