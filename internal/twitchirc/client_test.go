package twitchirc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/emotes"
)

func TestAuthFailureTriggersRefresh(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for i := 0; i < 4; i++ {
					if _, err := reader.ReadString('\n'); err != nil {
						return
					}
				}
				fmt.Fprintf(c, ":tmi.twitch.tv NOTICE * :Login authentication failed\r\n")
			}(conn)
		}
	}()

	tokenMu := sync.Mutex{}
	token := "oauth:old"
	refreshCalled := make(chan struct{}, 1)

	client := New(Config{
		Channels: []string{"chan"},
		Nick:     "nick",
		Token:    token,
		Addr:     ln.Addr().String(),
		TokenProvider: func() string {
			tokenMu.Lock()
			defer tokenMu.Unlock()
			return token
		},
		RefreshNow: func(ctx context.Context) (string, error) {
			tokenMu.Lock()
			token = "oauth:new"
			tokenMu.Unlock()
			select {
			case refreshCalled <- struct{}{}:
			default:
			}
			return token, nil
		},
	}, nil)

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	select {
	case <-refreshCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("RefreshNow was not called")
	}

	cancel()
	_ = ln.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not exit")
	}
	wg.Wait()
}

func TestRunDeliversEvents(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for i := 0; i < 4; i++ {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
		}
		fmt.Fprintf(conn, ":tmi.twitch.tv 001 nick :Welcome\r\n")
		fmt.Fprintf(conn, "@user-id=7;display-name=Viewer :viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #chan :!hello\r\n")
		fmt.Fprintf(conn, "@msg-id=raid;msg-param-displayName=Raider;msg-param-viewerCount=12;login=raider :tmi.twitch.tv USERNOTICE #chan\r\n")
		_, _ = reader.ReadString('\n')
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan core.Event, 4)
	client := New(Config{
		Channels: []string{"#Chan"},
		Nick:     "nick",
		Token:    "oauth:x",
		Addr:     ln.Addr().String(),
		Metrics:  NewMetrics(),
	}, func(ev core.Event) { events <- ev })

	go func() { _ = client.Run(ctx) }()

	var got []core.Event
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	if got[0].Kind != core.KindMessage || got[0].Message != "!hello" || !got[0].FirstMessage {
		t.Fatalf("unexpected chat event: %+v", got[0])
	}
	if got[1].Kind != core.KindHighlight || got[1].Username != "Raider" || got[1].Viewers != 12 {
		t.Fatalf("unexpected raid event: %+v", got[1])
	}
}

func newTestClient(cfg Config) *Client {
	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{"chan"}
	}
	return New(cfg, nil)
}

func classify(t *testing.T, c *Client, line string, now time.Time) (*core.Event, string) {
	t.Helper()
	parsed, ok := parseLine(line)
	if !ok {
		t.Fatalf("parseLine(%q) failed", line)
	}
	return c.toEvent(parsed, now)
}

func TestChatEventTags(t *testing.T) {
	c := newTestClient(Config{})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	line := "@badges=moderator/1;bits=100;custom-reward-id=abc-123;display-name=User;first-msg=1;user-id=42;emotes=25:0-4 " +
		":user!user@user.tmi.twitch.tv PRIVMSG #chan :Kappa cheer100 hi\\sthere"
	ev, reason := classify(t, c, line, now)
	if ev == nil {
		t.Fatalf("expected event, dropped: %s", reason)
	}
	if ev.Kind != core.KindMessage {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Message != "Kappa cheer100 hi\\sthere" {
		t.Fatalf("message text should not be tag-unescaped: %q", ev.Message)
	}
	if ev.Tags["username"] != "user" || ev.Tags["display-name"] != "User" {
		t.Fatalf("unexpected user tags: %v", ev.Tags)
	}
	if !ev.Tags.Flag("first-msg") || ev.Tags["bits"] != "100" {
		t.Fatalf("expected first-msg and bits tags: %v", ev.Tags)
	}
	if ev.Reward == nil || ev.Reward.ID != "abc-123" {
		t.Fatalf("expected reward, got %+v", ev.Reward)
	}
	if !ev.FirstMessage {
		t.Fatalf("first message of the day not flagged")
	}

	again, _ := classify(t, c, line, now.Add(time.Hour))
	if again.FirstMessage {
		t.Fatalf("second message on the same day flagged as first")
	}
	nextDay, _ := classify(t, c, line, now.Add(24*time.Hour))
	if !nextDay.FirstMessage {
		t.Fatalf("first message on a new day not flagged")
	}
}

func TestChatEventAction(t *testing.T) {
	c := newTestClient(Config{})
	ev, _ := classify(t, c, ":user!user@user.tmi.twitch.tv PRIVMSG #chan :\x01ACTION waves\x01", time.Now())
	if ev == nil || ev.Message != "waves" {
		t.Fatalf("unexpected action event: %+v", ev)
	}
	if ev.Tags["display-name"] != "user" {
		t.Fatalf("display-name should fall back to login: %v", ev.Tags)
	}
}

func TestChatEventProviderEmotes(t *testing.T) {
	c := newTestClient(Config{Emotes: emotes.Providers{{
		Prefix: "BTTV",
		Emotes: []emotes.Emote{{ID: "cat", Name: "catJAM"}},
	}}})
	ev, _ := classify(t, c, "@emotes=25:0-4 :u!u@u PRIVMSG #chan :Kappa catJAM", time.Now())
	if ev == nil {
		t.Fatalf("expected event")
	}
	if got := ev.Tags["emotes"]; got != "25:0-4/BTTV_cat:6-11" {
		t.Fatalf("emotes tag = %q", got)
	}
}

func TestHighlightEvents(t *testing.T) {
	c := newTestClient(Config{})
	tests := []struct {
		name  string
		line  string
		check func(*core.Event) bool
	}{
		{
			name: "resub plan",
			line: "@msg-id=resub;login=subber;display-name=Subber;msg-param-sub-plan=2000 :tmi.twitch.tv USERNOTICE #chan :great stream",
			check: func(ev *core.Event) bool {
				return ev.Methods != nil && ev.Methods.Plan == "2000" && ev.Message == "great stream" && ev.Tags["username"] == "subber"
			},
		},
		{
			name: "prime sub",
			line: "@msg-id=sub;login=p;msg-param-sub-plan=Prime :tmi.twitch.tv USERNOTICE #chan",
			check: func(ev *core.Event) bool {
				return ev.Methods != nil && ev.Methods.Prime
			},
		},
		{
			name: "gift recipient",
			line: "@msg-id=subgift;login=g;msg-param-sub-plan=1000;msg-param-recipient-display-name=Lucky :tmi.twitch.tv USERNOTICE #chan",
			check: func(ev *core.Event) bool {
				return ev.Recipient == "Lucky" && ev.Tags["msg-id"] == "subgift"
			},
		},
		{
			name: "mystery gift folds into subgift",
			line: "@msg-id=submysterygift;login=g;msg-param-sub-plan=1000 :tmi.twitch.tv USERNOTICE #chan",
			check: func(ev *core.Event) bool {
				return ev.Tags["msg-id"] == "subgift"
			},
		},
		{
			name: "raid",
			line: "@msg-id=raid;msg-param-login=raider;msg-param-viewerCount=oops :tmi.twitch.tv USERNOTICE #chan",
			check: func(ev *core.Event) bool {
				return ev.Username == "raider" && ev.Viewers == 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, reason := classify(t, c, tt.line, time.Now())
			if ev == nil {
				t.Fatalf("dropped: %s", reason)
			}
			if ev.Kind != core.KindHighlight {
				t.Fatalf("kind = %q", ev.Kind)
			}
			if !tt.check(ev) {
				t.Fatalf("unexpected event: %+v", ev)
			}
		})
	}
}

func TestDroppedLines(t *testing.T) {
	c := newTestClient(Config{})
	tests := []struct {
		line   string
		reason string
	}{
		{":u!u@u PRIVMSG #elsewhere :hi", dropChannel},
		{"@msg-id=announcement :tmi.twitch.tv USERNOTICE #chan :hello", dropNoticeType},
		{":tmi.twitch.tv ROOMSTATE #chan", dropCommand},
		{":u!u@u PRIVMSG #chan :   ", dropEmptyMessage},
	}
	for _, tt := range tests {
		ev, reason := classify(t, c, tt.line, time.Now())
		if ev != nil {
			t.Fatalf("%q: expected drop, got %+v", tt.line, ev)
		}
		if reason != tt.reason {
			t.Fatalf("%q: reason = %q, want %q", tt.line, reason, tt.reason)
		}
	}
}

func TestParseLine(t *testing.T) {
	parsed, ok := parseLine("@a=b\\sc;d= :nick!u@h PRIVMSG #chan :hello :there")
	if !ok {
		t.Fatalf("parseLine failed")
	}
	if parsed.tags["a"] != "b c" {
		t.Fatalf("tag not unescaped: %q", parsed.tags["a"])
	}
	if v, ok := parsed.tags["d"]; !ok || v != "" {
		t.Fatalf("empty tag lost: %v", parsed.tags)
	}
	if parsed.prefix != "nick!u@h" || parsed.command != "PRIVMSG" {
		t.Fatalf("unexpected prefix/command: %q %q", parsed.prefix, parsed.command)
	}
	if parsed.channel() != "chan" || parsed.trailing != "hello :there" {
		t.Fatalf("unexpected channel/trailing: %q %q", parsed.channel(), parsed.trailing)
	}
	if _, ok := parseLine("@only-tags"); ok {
		t.Fatalf("expected malformed line to fail")
	}
	if !strings.EqualFold(extractUser(":Nick!n@h"), "nick") {
		t.Fatalf("extractUser mismatch")
	}
}
