package trigger

import (
	"strings"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/rules"
)

// TestRewardID is the reward id used by dry-run redemptions; it maps to the
// unsuffixed reward-redeem key.
const TestRewardID = "TEST_ID"

// Candidates lists the rule keys to try for ev, in priority order. The first
// key with a configured rule wins.
func Candidates(ev *core.Event) []string {
	switch ev.Kind {
	case core.KindPoll:
		return []string{rules.KeyPollResult}
	case core.KindPrediction:
		return []string{rules.KeyPredictionResult}
	case core.KindBingo:
		return []string{rules.KeyBingoResult}
	case core.KindRaffle:
		return []string{rules.KeyRaffleResult}
	case core.KindMessage, core.KindHighlight:
	default:
		return nil
	}

	msgID, _ := ev.Tags.Get("msg-id")
	switch msgID {
	case "follow":
		return []string{rules.KeyFollow}
	case "sub", "resub", "giftpaidupgrade":
		return []string{rules.KeySub}
	case "subgift":
		return []string{rules.KeySubGift}
	case "raid":
		return []string{rules.KeyRaid}
	}

	var keys []string
	if ev.Reward != nil {
		keys = append(keys, RewardKey(ev.Reward.ID))
	}
	if ev.Tags.Flag("first-msg") {
		keys = append(keys, rules.KeyFirstMessage)
	}
	if ev.FirstMessage {
		keys = append(keys, rules.KeyFirstMessageToday)
	}
	if bits, ok := ev.Tags.Get("bits"); ok && bits != "" {
		keys = append(keys, rules.KeyBits)
	}
	if text := strings.TrimSpace(ev.Message); text != "" {
		keys = append(keys, rules.Compose(rules.KeyChatCommand, text))
	}
	return keys
}

// RewardKey returns the rule key for a channel-point reward id.
func RewardKey(id string) string {
	if id == "" || id == TestRewardID {
		return rules.KeyRewardRedeem
	}
	return rules.Compose(rules.KeyRewardRedeem, id)
}

// AttachWinner computes Winner for result-bearing kinds.
func AttachWinner(ev *core.Event) {
	switch ev.Kind {
	case core.KindPoll:
		ev.Winner = pollWinner(ev.Poll)
	case core.KindPrediction:
		ev.Winner = predictionWinner(ev.Prediction)
	case core.KindBingo, core.KindRaffle:
		ev.Winner = firstWinner(ev.Winners)
	}
}

func pollWinner(p *core.Poll) string {
	if p == nil {
		return ""
	}
	best, winner := 0, ""
	for _, c := range p.Choices {
		if c.Votes > best {
			best, winner = c.Votes, c.Title
		}
	}
	return winner
}

func predictionWinner(p *core.Prediction) string {
	if p == nil {
		return ""
	}
	if p.WinningOutcomeID != "" {
		for _, o := range p.Outcomes {
			if o.ID == p.WinningOutcomeID {
				return o.Title
			}
		}
	}
	best, winner := 0, ""
	for _, o := range p.Outcomes {
		if o.Votes > best {
			best, winner = o.Votes, o.Title
		}
	}
	return winner
}

func firstWinner(users []core.User) string {
	if len(users) == 0 {
		return ""
	}
	if users[0].DisplayName != "" {
		return users[0].DisplayName
	}
	return users[0].Login
}
