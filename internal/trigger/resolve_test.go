package trigger

import (
	"reflect"
	"testing"
	"time"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/rules"
)

func TestCandidates(t *testing.T) {
	cases := []struct {
		name string
		ev   core.Event
		want []string
	}{
		{
			name: "follow is terminal",
			ev: core.Event{Kind: core.KindHighlight, Message: "!hi", Tags: core.Tags{"msg-id": "follow"},
				Reward: &core.Reward{ID: "abc"}},
			want: []string{"follow"},
		},
		{
			name: "resub maps to sub",
			ev:   core.Event{Kind: core.KindHighlight, Tags: core.Tags{"msg-id": "resub"}},
			want: []string{"sub"},
		},
		{
			name: "gift upgrade maps to sub",
			ev:   core.Event{Kind: core.KindHighlight, Tags: core.Tags{"msg-id": "giftpaidupgrade"}},
			want: []string{"sub"},
		},
		{
			name: "subgift",
			ev:   core.Event{Kind: core.KindHighlight, Tags: core.Tags{"msg-id": "subgift"}},
			want: []string{"subgift"},
		},
		{
			name: "test reward uses bare key",
			ev:   core.Event{Kind: core.KindHighlight, Reward: &core.Reward{ID: TestRewardID}},
			want: []string{"reward-redeem"},
		},
		{
			name: "fallthrough order",
			ev: core.Event{
				Kind:         core.KindMessage,
				Message:      "  Cheer10 !hi  ",
				FirstMessage: true,
				Reward:       &core.Reward{ID: "r1"},
				Tags:         core.Tags{"first-msg": "1", "bits": "10"},
			},
			want: []string{"reward-redeem_r1", "first-message", "first-message-today", "bits", "chat-command_Cheer10 !hi"},
		},
		{
			name: "blank message has no command key",
			ev:   core.Event{Kind: core.KindMessage, Message: "   "},
			want: nil,
		},
		{
			name: "poll",
			ev:   core.Event{Kind: core.KindPoll},
			want: []string{"poll-result"},
		},
		{
			name: "unknown kind",
			ev:   core.Event{Kind: "whisper"},
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Candidates(&tc.ev)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestLookupFallsThroughToConfiguredKey(t *testing.T) {
	e := New(Options{Rules: rules.Table{
		"chat-command_!hi": {Steps: []rules.Step{{Target: "x"}}},
	}})
	ev := core.Event{Kind: core.KindMessage, Message: "!hi", Tags: core.Tags{"first-msg": "1"}}
	key, _, ok := e.lookup(&ev)
	if !ok || key != "chat-command_!hi" {
		t.Fatalf("expected chat-command key, got %q ok=%t", key, ok)
	}
}

func TestAttachWinner(t *testing.T) {
	cases := []struct {
		name string
		ev   core.Event
		want string
	}{
		{
			name: "poll first max wins ties",
			ev: core.Event{Kind: core.KindPoll, Poll: &core.Poll{Choices: []core.PollChoice{
				{Title: "a", Votes: 2}, {Title: "b", Votes: 4}, {Title: "c", Votes: 4},
			}}},
			want: "b",
		},
		{
			name: "poll without votes",
			ev: core.Event{Kind: core.KindPoll, Poll: &core.Poll{Choices: []core.PollChoice{
				{Title: "a"}, {Title: "b"},
			}}},
			want: "",
		},
		{
			name: "prediction uses winning outcome",
			ev: core.Event{Kind: core.KindPrediction, Prediction: &core.Prediction{
				WinningOutcomeID: "o2",
				Outcomes: []core.PredictionOutcome{
					{ID: "o1", Title: "yes", Votes: 10}, {ID: "o2", Title: "no", Votes: 1},
				},
			}},
			want: "no",
		},
		{
			name: "prediction falls back to votes",
			ev: core.Event{Kind: core.KindPrediction, Prediction: &core.Prediction{
				Outcomes: []core.PredictionOutcome{
					{ID: "o1", Title: "yes", Votes: 10}, {ID: "o2", Title: "no", Votes: 1},
				},
			}},
			want: "yes",
		},
		{
			name: "bingo first winner",
			ev: core.Event{Kind: core.KindBingo, Winners: []core.User{
				{DisplayName: "Amy"}, {DisplayName: "Ben"},
			}},
			want: "Amy",
		},
		{
			name: "raffle login fallback",
			ev:   core.Event{Kind: core.KindRaffle, Winners: []core.User{{Login: "amy"}}},
			want: "amy",
		},
		{
			name: "raffle empty",
			ev:   core.Event{Kind: core.KindRaffle},
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := tc.ev
			AttachWinner(&ev)
			if ev.Winner != tc.want {
				t.Fatalf("expected winner %q, got %q", tc.want, ev.Winner)
			}
		})
	}
}

func TestAllowed(t *testing.T) {
	cases := []struct {
		name  string
		perms rules.Permissions
		tags  core.Tags
		want  bool
	}{
		{"all", rules.Permissions{All: true}, nil, true},
		{"nothing allowed", rules.Permissions{}, core.Tags{"badges": "broadcaster/1"}, false},
		{"broadcaster", rules.Permissions{Broadcaster: true}, core.Tags{"badges": "broadcaster/1,subscriber/0"}, true},
		{"mod tag", rules.Permissions{Mods: true}, core.Tags{"mod": "1"}, true},
		{"vip badge", rules.Permissions{VIPs: true}, core.Tags{"badges": "vip/1"}, true},
		{"founder counts as sub", rules.Permissions{Subs: true}, core.Tags{"badges": "founder/0"}, true},
		{"sub not mod", rules.Permissions{Mods: true}, core.Tags{"badges": "subscriber/3"}, false},
		{"user list", rules.Permissions{Users: "Amy, ben;carl"}, core.Tags{"username": "BEN"}, true},
		{"user list miss", rules.Permissions{Users: "amy ben"}, core.Tags{"username": "benny"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.perms, tc.tags); got != tc.want {
				t.Fatalf("expected %t, got %t", tc.want, got)
			}
		})
	}
}

func TestCooldownSnapshot(t *testing.T) {
	c := NewCooldowns()
	now := time.Unix(1000, 0)
	if ok, _ := c.admit("chat-command_!a", "1", 5*time.Second, 20*time.Second, now); !ok {
		t.Fatalf("expected first admission")
	}

	snap := c.Snapshot(now.Add(10 * time.Second))
	if len(snap) != 1 || snap[0].Key != "chat-command_!a_1" || snap[0].Scope != "user" {
		t.Fatalf("expected only the user window to remain, got %+v", snap)
	}
	if snap[0].Remaining != 10*time.Second {
		t.Fatalf("unexpected remaining %v", snap[0].Remaining)
	}

	c.Reset()
	if snap := c.Snapshot(now); len(snap) != 0 {
		t.Fatalf("expected reset to clear windows, got %+v", snap)
	}
}

func TestRejectedUserCheckDoesNotArmUserWindow(t *testing.T) {
	c := NewCooldowns()
	now := time.Unix(0, 0)
	c.admit("k", "1", 10*time.Second, 0, now)
	if ok, reason := c.admit("k", "2", 10*time.Second, 10*time.Second, now.Add(time.Second)); ok || reason != ReasonGlobalCooldown {
		t.Fatalf("expected global rejection, got %t %q", ok, reason)
	}
	for _, e := range c.Snapshot(now.Add(time.Second)) {
		if e.Scope == "user" {
			t.Fatalf("user window armed after global rejection: %+v", e)
		}
	}
}
