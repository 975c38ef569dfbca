package twitchirc

import (
	"bufio"
	"context"
	"crypto/tls"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/emotes"
)

type Config struct {
	Channels      []string
	Nick          string
	Token         string
	UseTLS        bool
	TokenProvider func() string
	RefreshNow    func(context.Context) (string, error)
	Addr          string
	Emotes        emotes.Providers
	Metrics       *Metrics
	DebugDrops    bool
}

// Handler receives every classified event. It is called from the read loop
// and must not block for long.
type Handler func(core.Event)

type Client struct {
	cfg      Config
	handle   Handler
	channels map[string]struct{}
	firsts   *dailyFirsts
}

var errAuthFailed = errors.New("twitchirc: authentication failed")

func New(cfg Config, h Handler) *Client {
	channels := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		ch = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
		if ch != "" {
			channels[ch] = struct{}{}
		}
	}
	return &Client{cfg: cfg, handle: h, channels: channels, firsts: newDailyFirsts()}
}

func (c *Client) Run(ctx context.Context) error {
	if len(c.channels) == 0 || strings.TrimSpace(c.cfg.Nick) == "" {
		return errors.New("twitchirc: channel and nick are required")
	}

	backoff := time.Second
	refreshBackoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if err == nil {
			backoff = time.Second
			refreshBackoff = time.Second
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}

		if errors.Is(err, errAuthFailed) && c.cfg.RefreshNow != nil {
			log.Printf("twitchirc: authentication failed; refreshing token")
			for {
				_, refreshErr := c.cfg.RefreshNow(ctx)
				if refreshErr == nil {
					refreshBackoff = time.Second
					backoff = time.Second
					break
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("twitchirc: refresh failed: %v; retrying in %s", refreshErr, refreshBackoff)
				if !sleep(ctx, refreshBackoff) {
					return ctx.Err()
				}
				refreshBackoff = grow(refreshBackoff)
			}
			continue
		}

		if errors.Is(err, errAuthFailed) {
			log.Printf("twitchirc: authentication failed; retrying in %s", backoff)
		} else {
			log.Printf("twitchirc: disconnected: %v; reconnecting in %s", err, backoff)
		}
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = grow(backoff)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func grow(d time.Duration) time.Duration {
	d *= 2
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

func (c *Client) runOnce(ctx context.Context) error {
	token := strings.TrimSpace(c.cfg.Token)
	if c.cfg.TokenProvider != nil {
		if provided := strings.TrimSpace(c.cfg.TokenProvider()); provided != "" {
			token = provided
		}
	}
	if token == "" {
		return errors.New("twitchirc: token is required")
	}

	host := "irc.chat.twitch.tv"
	addr := host + ":6667"
	if c.cfg.UseTLS {
		addr = host + ":6697"
	}
	if strings.TrimSpace(c.cfg.Addr) != "" {
		addr = strings.TrimSpace(c.cfg.Addr)
	}

	log.Printf("twitchirc: connecting to %s (tls=%v)", addr, c.cfg.UseTLS)

	d := &net.Dialer{Timeout: 10 * time.Second}
	var conn net.Conn
	var err error
	if c.cfg.UseTLS {
		conn, err = tls.DialWithDialer(d, "tcp", addr, &tls.Config{ServerName: host})
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	send := func(s string) error {
		if _, err := rw.WriteString(s + "\r\n"); err != nil {
			return err
		}
		return rw.Flush()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := send("PASS " + token); err != nil {
		return errors.Wrap(err, "send PASS")
	}
	if err := send("NICK " + c.cfg.Nick); err != nil {
		return errors.Wrap(err, "send NICK")
	}
	if err := send("CAP REQ :twitch.tv/tags twitch.tv/commands"); err != nil {
		return errors.Wrap(err, "send CAP REQ")
	}
	for ch := range c.channels {
		if err := send("JOIN #" + ch); err != nil {
			return errors.Wrap(err, "send JOIN")
		}
		log.Printf("twitchirc: joined #%s as %s", ch, c.cfg.Nick)
	}

	drops := newDropLogger(time.Now(), c.cfg.DebugDrops || readTwitchDropDebugEnv(), 0, c.cfg.Metrics)
	defer drops.flush(time.Now())

	reader := rw.Reader
	var (
		total        int
		window       int
		nextTick     = time.Now().Add(10 * time.Second)
		readDeadline = 2 * time.Minute
		nextPing     = time.Now().Add(4 * time.Minute)
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return errors.Wrap(err, "set deadline")
		}

		line, err := reader.ReadString('\n')
		now := time.Now()
		if !now.Before(nextTick) {
			if window > 0 {
				log.Printf("twitchirc: recv %d events (total %d)", window, total)
			}
			window = 0
			nextTick = now.Add(10 * time.Second)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if !now.Before(nextPing) {
					if err := send("PING :keepalive"); err != nil {
						return errors.Wrap(err, "send PING")
					}
					nextPing = now.Add(4 * time.Minute)
				}
				continue
			}
			return errors.Wrap(err, "read")
		}
		nextPing = now.Add(4 * time.Minute)

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		c.cfg.Metrics.incLine()

		if authFailure(line) {
			log.Printf("twitchirc: authentication failed per server NOTICE")
			return errAuthFailed
		}

		if strings.HasPrefix(line, "PING ") {
			if err := send("PONG " + strings.TrimPrefix(line, "PING ")); err != nil {
				return errors.Wrap(err, "send PONG")
			}
			continue
		}

		parsed, ok := parseLine(line)
		if !ok {
			drops.note(now, dropMalformed, line)
			continue
		}
		if parsed.command == "RECONNECT" {
			return errors.New("server requested reconnect")
		}

		ev, reason := c.toEvent(parsed, now)
		if ev == nil {
			drops.note(now, reason, line)
			continue
		}
		total++
		window++
		c.cfg.Metrics.incEvent(ev.Kind)
		if c.handle != nil {
			c.handle(*ev)
		}
	}
}

// dailyFirsts remembers which users have chatted on the current UTC day.
type dailyFirsts struct {
	mu   sync.Mutex
	day  string
	seen map[string]struct{}
}

func newDailyFirsts() *dailyFirsts {
	return &dailyFirsts{seen: make(map[string]struct{})}
}

func (d *dailyFirsts) first(user string, now time.Time) bool {
	if user == "" {
		return false
	}
	day := now.UTC().Format("2006-01-02")

	d.mu.Lock()
	defer d.mu.Unlock()
	if day != d.day {
		d.day = day
		clear(d.seen)
	}
	if _, ok := d.seen[user]; ok {
		return false
	}
	d.seen[user] = struct{}{}
	return true
}
