package template

import (
	"testing"

	"github.com/you/gnasty-triggers/internal/core"
)

func TestResolveSubTemplate(t *testing.T) {
	r := NewResolver()
	ev := &core.Event{
		Kind:    core.KindHighlight,
		Tags:    core.Tags{"display-name": "Bob", "msg-id": "sub"},
		Methods: &core.SubMethods{Plan: "3000"},
		Message: "hi",
	}

	got := r.Resolve("sub", ev, "{USER} subbed tier {SUB_TIER}: {MESSAGE}", false)
	if got != "Bob subbed tier 3: hi" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolveSubTierFallback(t *testing.T) {
	r := NewResolver()
	tests := []struct {
		name    string
		methods *core.SubMethods
		want    string
	}{
		{name: "missing methods", methods: nil, want: "1"},
		{name: "prime plan", methods: &core.SubMethods{Plan: "Prime"}, want: "1"},
		{name: "tier two", methods: &core.SubMethods{Plan: "2000"}, want: "2"},
		{name: "rounding", methods: &core.SubMethods{Plan: "1500"}, want: "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &core.Event{Kind: core.KindHighlight, Methods: tt.methods}
			if got := r.Resolve("sub", ev, "{SUB_TIER}", false); got != tt.want {
				t.Fatalf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveIsCaseInsensitiveAndGlobal(t *testing.T) {
	r := NewResolver()
	ev := &core.Event{Kind: core.KindMessage, Tags: core.Tags{"display-name": "Ann"}}

	got := r.Resolve("chat-command_!hi", ev, "{user} / {USER} / {User} {UNKNOWN}", false)
	if got != "Ann / Ann / Ann {UNKNOWN}" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolveMissingFieldIsEmpty(t *testing.T) {
	r := NewResolver()
	ev := &core.Event{Kind: core.KindHighlight}

	got := r.Resolve("reward-redeem_xyz", ev, "[{USER}] {TITLE} costs {COST}", false)
	if got != "[]  costs " {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolveMessageStripsEmotesAndMarkup(t *testing.T) {
	r := NewResolver()
	ev := &core.Event{
		Kind:    core.KindMessage,
		Message: "hello Kappa <b>world</b>",
		Tags:    core.Tags{"display-name": "Zed", "emotes": "25:6-10", "first-msg": "1"},
	}

	got := r.Resolve("first-message", ev, "{USER}: {MESSAGE}", false)
	if got != "Zed: hello world" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolveBitsMessageDropsCheermotes(t *testing.T) {
	r := NewResolver()
	ev := &core.Event{
		Kind:    core.KindMessage,
		Message: "Cheer100 great stream cheer50 NotACheer",
		Tags:    core.Tags{"display-name": "Rich", "bits": "150", "room-id": "42"},
	}

	got := r.Resolve("bits", ev, "{USER} x{BITS}: {MESSAGE}", false)
	if got != "Rich x150: great stream NotACheer" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolveURLEncodes(t *testing.T) {
	r := NewResolver()
	ev := &core.Event{
		Kind:   core.KindHighlight,
		Tags:   core.Tags{"display-name": "A&B Co"},
		Reward: &core.Reward{ID: "r1", Title: "Hydrate now?", Cost: 500},
	}

	got := r.Resolve("reward-redeem_r1", ev, "https://overlay.test/?u={USER}&t={TITLE}&c={COST}", true)
	want := "https://overlay.test/?u=A%26B%20Co&t=Hydrate%20now%3F&c=500"
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveResultKinds(t *testing.T) {
	r := NewResolver()

	raid := &core.Event{Kind: core.KindHighlight, Username: "Raider", Viewers: 0}
	if got := r.Resolve("raid", raid, "{USER} with {VIEWERS}", false); got != "Raider with 0" {
		t.Fatalf("raid Resolve = %q", got)
	}

	poll := &core.Event{Kind: core.KindPoll, Poll: &core.Poll{Title: "Best?"}, Winner: "B"}
	if got := r.Resolve("poll-result", poll, "{TITLE} -> {WIN}", false); got != "Best? -> B" {
		t.Fatalf("poll Resolve = %q", got)
	}

	raffle := &core.Event{Kind: core.KindRaffle, Winner: "Lucky"}
	if got := r.Resolve("raffle-result", raffle, "gg {WINNER}", false); got != "gg Lucky" {
		t.Fatalf("raffle Resolve = %q", got)
	}
}

func TestResolveUnknownKindLeavesTemplate(t *testing.T) {
	r := NewResolver()
	ev := &core.Event{Kind: core.KindMessage}
	if got := r.Resolve("nope", ev, "{USER}", false); got != "{USER}" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestHelpersCatalogue(t *testing.T) {
	h := Helpers("subgift_whatever")
	if len(h) != 4 || h[1].Tag != "RECIPIENT" {
		t.Fatalf("unexpected subgift helpers: %+v", h)
	}
	cat := Catalogue()
	if len(cat["follow"]) != 1 || cat["follow"][0].Field != "tags.username" {
		t.Fatalf("unexpected follow helpers: %+v", cat["follow"])
	}
}
