package template

import (
	"regexp"

	"github.com/you/gnasty-triggers/internal/rules"
)

// Transform post-processes a resolved field value.
type Transform int

const (
	TransformNone Transform = iota
	TransformSubTier
	TransformMessage
)

// Descriptor binds a {TAG} placeholder to a field path on the event.
type Descriptor struct {
	Tag         string    `json:"tag"`
	Description string    `json:"description"`
	Field       string    `json:"field"`
	Transform   Transform `json:"-"`

	pattern *regexp.Regexp
}

func helper(tag, desc, field string, tr Transform) Descriptor {
	return Descriptor{
		Tag:         tag,
		Description: desc,
		Field:       field,
		Transform:   tr,
		pattern:     regexp.MustCompile(`(?i)\{` + regexp.QuoteMeta(tag) + `\}`),
	}
}

var (
	userHelper    = helper("USER", "User name", "tags.display-name", TransformNone)
	messageHelper = helper("MESSAGE", "Message of the user", "message", TransformMessage)
	subTierHelper = helper("SUB_TIER", "Sub tier 1, 2 or 3", "methods.plan", TransformSubTier)
)

// registry is keyed by base rule key. Order matters: placeholders are replaced
// in registration order.
var registry = map[string][]Descriptor{
	rules.KeyFirstMessage: {
		userHelper,
		helper("MESSAGE", "Message content", "message", TransformMessage),
	},
	rules.KeyFirstMessageToday: {
		userHelper,
		helper("MESSAGE", "Message content", "message", TransformMessage),
	},
	rules.KeyPollResult: {
		helper("TITLE", "Poll title", "poll.title", TransformNone),
		helper("WIN", "Winning choice title", "winner", TransformNone),
	},
	rules.KeyPredictionResult: {
		helper("TITLE", "Prediction title", "prediction.title", TransformNone),
		helper("WIN", "Winning choice title", "winner", TransformNone),
	},
	rules.KeyBingoResult: {
		helper("WINNER", "Winner name", "winner", TransformNone),
	},
	rules.KeyRaffleResult: {
		helper("WINNER", "Winner name", "winner", TransformNone),
	},
	rules.KeyChatCommand: {
		userHelper,
	},
	rules.KeySub: {
		userHelper,
		subTierHelper,
		messageHelper,
	},
	rules.KeySubGift: {
		helper("USER", "User name of the sub gifter", "tags.display-name", TransformNone),
		helper("RECIPIENT", "Recipient user name", "recipient", TransformNone),
		subTierHelper,
		messageHelper,
	},
	rules.KeyBits: {
		userHelper,
		helper("BITS", "Number of bits", "tags.bits", TransformNone),
		messageHelper,
	},
	rules.KeyFollow: {
		helper("USER", "User name of the new follower", "tags.username", TransformNone),
	},
	rules.KeyRaid: {
		helper("USER", "User name of the raider", "username", TransformNone),
		helper("VIEWERS", "Number of viewers", "viewers", TransformNone),
	},
	rules.KeyRewardRedeem: {
		userHelper,
		helper("TITLE", "Reward title", "reward.title", TransformNone),
		helper("DESCRIPTION", "Reward description", "reward.prompt", TransformNone),
		helper("COST", "Reward cost", "reward.cost", TransformNone),
	},
}

// Helpers returns the placeholders available for a rule key.
func Helpers(key string) []Descriptor {
	return append([]Descriptor(nil), registry[rules.Base(key)]...)
}

// Catalogue returns every registered placeholder keyed by base rule key.
func Catalogue() map[string][]Descriptor {
	out := make(map[string][]Descriptor, len(registry))
	for k, v := range registry {
		out[k] = append([]Descriptor(nil), v...)
	}
	return out
}
