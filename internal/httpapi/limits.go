package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nhooyr.io/websocket"
)

const (
	limiterIdleTTL  = 5 * time.Minute
	limiterSweepLen = 1024
)

type visitor struct {
	bucket *rate.Limiter
	seen   time.Time
}

// clientLimiter hands each remote IP its own token bucket. A nil limiter
// allows everything.
type clientLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &clientLimiter{limit: rate.Limit(rps), burst: burst, visitors: make(map[string]*visitor)}
}

// newTriggerLimiter gets a quarter of the general budget since each accepted
// submission supersedes the running spool.
func newTriggerLimiter(rps, burst int) *clientLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	tb := burst / 4
	if tb < 1 {
		tb = 1
	}
	return newClientLimiter(float64(rps)/4, tb)
}

func (l *clientLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		if len(l.visitors) >= limiterSweepLen {
			l.sweep(now)
		}
		v = &visitor{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.bucket.AllowN(now, 1)
}

func (l *clientLimiter) sweep(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.seen) > limiterIdleTTL {
			delete(l.visitors, ip)
		}
	}
}

// remoteIP prefers the first X-Forwarded-For hop; overlays usually sit behind
// a local proxy.
func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				return hop
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// corsPolicy allows browser sources from a fixed origin list, or any http(s)
// origin when the list contains "*". A nil policy adds no headers.
type corsPolicy struct {
	any     bool
	origins map[string]struct{}
}

func newCORSPolicy(origins []string) *corsPolicy {
	p := &corsPolicy{origins: make(map[string]struct{})}
	for _, o := range origins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.any = true
		default:
			p.origins[o] = struct{}{}
		}
	}
	if !p.any && len(p.origins) == 0 {
		return nil
	}
	return p
}

func (c *corsPolicy) permits(origin string) bool {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	if c.any {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// preflight answers OPTIONS requests carrying an Origin and reports whether
// it wrote a response.
func (c *corsPolicy) preflight(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if c == nil || r.Method != http.MethodOptions || origin == "" {
		return false
	}
	if !c.permits(origin) {
		w.WriteHeader(http.StatusForbidden)
		return true
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	}
	h.Set("Access-Control-Max-Age", "300")
	h.Add("Vary", "Origin")
	w.WriteHeader(http.StatusNoContent)
	return true
}

// allow tags the response for a permitted Origin. It is false only when an
// Origin is present and not on the list.
func (c *corsPolicy) allow(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if c == nil || origin == "" {
		return true
	}
	if !c.permits(origin) {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	return true
}

// acceptOptions mirrors the policy onto the WebSocket origin check.
func (c *corsPolicy) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	if c == nil {
		return opts
	}
	if c.any {
		opts.InsecureSkipVerify = true
		return opts
	}
	for origin := range c.origins {
		opts.OriginPatterns = append(opts.OriginPatterns, stripScheme(origin))
	}
	return opts
}
