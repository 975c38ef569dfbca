// Package rules models the configured trigger table: which steps run for which
// event key, and which of them are gated by permissions and cooldowns.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Base rule keys. Keys never contain "_" so a "_<discriminator>" suffix can be
// stripped to recover the base.
const (
	KeyFirstMessage      = "first-message"
	KeyFirstMessageToday = "first-message-today"
	KeyPollResult        = "poll-result"
	KeyPredictionResult  = "prediction-result"
	KeyBingoResult       = "bingo-result"
	KeyRaffleResult      = "raffle-result"
	KeyChatCommand       = "chat-command"
	KeySub               = "sub"
	KeySubGift           = "subgift"
	KeyBits              = "bits"
	KeyFollow            = "follow"
	KeyRaid              = "raid"
	KeyRewardRedeem      = "reward-redeem"
)

// BaseKeys lists every known base key.
var BaseKeys = []string{
	KeyFirstMessage, KeyFirstMessageToday, KeyPollResult, KeyPredictionResult,
	KeyBingoResult, KeyRaffleResult, KeyChatCommand, KeySub, KeySubGift,
	KeyBits, KeyFollow, KeyRaid, KeyRewardRedeem,
}

// Compose builds "<base>_<discriminator>".
func Compose(base, discriminator string) string {
	return base + "_" + discriminator
}

// Base strips the discriminator suffix from a rule key.
func Base(key string) string {
	if idx := strings.IndexByte(key, '_'); idx != -1 {
		return key[:idx]
	}
	return key
}

func knownBase(base string) bool {
	for _, k := range BaseKeys {
		if k == base {
			return true
		}
	}
	return false
}

// Step is one instruction for the scene control surface.
type Step struct {
	Target string  `yaml:"target" json:"target"`
	Text   string  `yaml:"text,omitempty" json:"text,omitempty"`
	URL    string  `yaml:"url,omitempty" json:"url,omitempty"`
	Media  string  `yaml:"media,omitempty" json:"media,omitempty"`
	Filter string  `yaml:"filter,omitempty" json:"filter,omitempty"`
	Show   bool    `yaml:"show" json:"show"`
	Delay  float64 `yaml:"delay,omitempty" json:"delay,omitempty"` // seconds before the next step
}

// Wait converts Delay to a duration, never negative.
func (s Step) Wait() time.Duration {
	if s.Delay <= 0 {
		return 0
	}
	return time.Duration(s.Delay * float64(time.Second))
}

// Permissions restricts who may fire a gated rule.
type Permissions struct {
	All         bool   `yaml:"all" json:"all"`
	Broadcaster bool   `yaml:"broadcaster" json:"broadcaster"`
	Mods        bool   `yaml:"mods" json:"mods"`
	VIPs        bool   `yaml:"vips" json:"vips"`
	Subs        bool   `yaml:"subs" json:"subs"`
	Users       string `yaml:"users,omitempty" json:"users,omitempty"`
}

// Cooldown values are in seconds; zero disables the cooldown.
type Cooldown struct {
	Global int `yaml:"global" json:"global"`
	User   int `yaml:"user" json:"user"`
}

// Gate carries the admission policy of a gated rule.
type Gate struct {
	Permissions Permissions `yaml:"permissions" json:"permissions"`
	Cooldown    Cooldown    `yaml:"cooldown" json:"cooldown"`
}

// Rule is either a plain step list or a gated rule (Gate != nil).
type Rule struct {
	Steps []Step `json:"steps"`
	Gate  *Gate  `json:"gate,omitempty"`
}

func (r Rule) Gated() bool { return r.Gate != nil }

type gatedRule struct {
	Permissions Permissions `yaml:"permissions"`
	Cooldown    Cooldown    `yaml:"cooldown"`
	Steps       []Step      `yaml:"steps"`
}

// UnmarshalYAML accepts a sequence (plain steps) or a mapping (gated rule).
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var steps []Step
		if err := node.Decode(&steps); err != nil {
			return err
		}
		*r = Rule{Steps: steps}
		return nil
	case yaml.MappingNode:
		var g gatedRule
		if err := node.Decode(&g); err != nil {
			return err
		}
		*r = Rule{
			Steps: g.Steps,
			Gate:  &Gate{Permissions: g.Permissions, Cooldown: g.Cooldown},
		}
		return nil
	default:
		return fmt.Errorf("line %d: rule must be a list of steps or a mapping", node.Line)
	}
}

// Table maps rule keys to rules.
type Table map[string]Rule

// Lookup performs an exact-match lookup.
func (t Table) Lookup(key string) (Rule, bool) {
	r, ok := t[key]
	return r, ok
}

type document struct {
	Triggers Table `yaml:"triggers"`
}

// Parse decodes and validates a YAML rule document.
func Parse(data []byte) (Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode rules")
	}
	if doc.Triggers == nil {
		doc.Triggers = Table{}
	}
	if err := doc.Triggers.Validate(); err != nil {
		return nil, err
	}
	return doc.Triggers, nil
}

// Validate checks keys and steps.
func (t Table) Validate() error {
	for key, rule := range t {
		if strings.TrimSpace(key) == "" {
			return errors.New("rules: empty trigger key")
		}
		if !knownBase(Base(key)) {
			return errors.Errorf("rules: %q: unknown trigger type %q", key, Base(key))
		}
		if rule.Gate != nil && (rule.Gate.Cooldown.Global < 0 || rule.Gate.Cooldown.User < 0) {
			return errors.Errorf("rules: %q: cooldowns must not be negative", key)
		}
		for i, step := range rule.Steps {
			if strings.TrimSpace(step.Target) == "" {
				return errors.Errorf("rules: %q step %d: target is required", key, i)
			}
			if step.Delay < 0 {
				return errors.Errorf("rules: %q step %d: delay must not be negative", key, i)
			}
		}
	}
	return nil
}
