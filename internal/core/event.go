package core

import (
	"strconv"
	"strings"
)

// Kind discriminates the Event union.
type Kind string

const (
	KindMessage    Kind = "message"
	KindHighlight  Kind = "highlight"
	KindPoll       Kind = "poll"
	KindPrediction Kind = "prediction"
	KindBingo      Kind = "bingo"
	KindRaffle     Kind = "raffle"
)

// Tags carries IRC-style message tags (msg-id, user-id, display-name, bits, ...).
type Tags map[string]string

// Get returns the tag value and whether it was present.
func (t Tags) Get(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t[key]
	return v, ok
}

// Flag reports whether a boolean-ish tag is set ("1" or "true").
func (t Tags) Flag(key string) bool {
	v, ok := t.Get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// Event is a classified platform occurrence delivered to the trigger engine.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind Kind `json:"type"`

	Message      string `json:"message,omitempty"`
	Tags         Tags   `json:"tags,omitempty"`
	FirstMessage bool   `json:"firstMessage,omitempty"`

	Reward    *Reward     `json:"reward,omitempty"`
	Methods   *SubMethods `json:"methods,omitempty"`
	Recipient string      `json:"recipient,omitempty"`

	// raid
	Username string `json:"username,omitempty"`
	Viewers  int    `json:"viewers,omitempty"`

	Poll       *Poll       `json:"poll,omitempty"`
	Prediction *Prediction `json:"prediction,omitempty"`
	Winners    []User      `json:"winners,omitempty"`

	// Winner is filled by the engine for poll, prediction, bingo and raffle results.
	Winner string `json:"winner,omitempty"`
}

// Reward describes a channel-point redemption.
type Reward struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Cost   int    `json:"cost,omitempty"`
}

// SubMethods holds the subscription plan ("1000", "2000", "3000", "Prime").
type SubMethods struct {
	Plan  string `json:"plan,omitempty"`
	Prime bool   `json:"prime,omitempty"`
}

type Poll struct {
	Title   string       `json:"title"`
	Choices []PollChoice `json:"choices"`
}

type PollChoice struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Votes int    `json:"votes"`
}

type Prediction struct {
	Title            string              `json:"title"`
	WinningOutcomeID string              `json:"winning_outcome_id,omitempty"`
	Outcomes         []PredictionOutcome `json:"outcomes"`
}

type PredictionOutcome struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Votes int    `json:"votes"`
}

// User identifies a bingo or raffle winner.
type User struct {
	ID          string `json:"id,omitempty"`
	Login       string `json:"login,omitempty"`
	DisplayName string `json:"display-name,omitempty"`
}

// Clone returns a copy that can be annotated without touching the original.
func (e Event) Clone() Event {
	out := e
	if e.Tags != nil {
		out.Tags = make(Tags, len(e.Tags))
		for k, v := range e.Tags {
			out.Tags[k] = v
		}
	}
	if e.Reward != nil {
		r := *e.Reward
		out.Reward = &r
	}
	if e.Methods != nil {
		m := *e.Methods
		out.Methods = &m
	}
	if e.Poll != nil {
		p := *e.Poll
		p.Choices = append([]PollChoice(nil), e.Poll.Choices...)
		out.Poll = &p
	}
	if e.Prediction != nil {
		p := *e.Prediction
		p.Outcomes = append([]PredictionOutcome(nil), e.Prediction.Outcomes...)
		out.Prediction = &p
	}
	out.Winners = append([]User(nil), e.Winners...)
	return out
}

// UserID returns the user-id tag, if any.
func (e Event) UserID() string {
	v, _ := e.Tags.Get("user-id")
	return v
}

// DisplayName returns the best available user name for logging.
func (e Event) DisplayName() string {
	if v, ok := e.Tags.Get("display-name"); ok && v != "" {
		return v
	}
	if v, ok := e.Tags.Get("username"); ok && v != "" {
		return v
	}
	return e.Username
}
