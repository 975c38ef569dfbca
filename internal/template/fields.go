package template

import (
	"strconv"
	"strings"

	"github.com/you/gnasty-triggers/internal/core"
)

// value is the result of walking a field path; ok=false means absent.
type value struct {
	str   string
	num   float64
	isNum bool
	ok    bool
}

func strValue(s string, ok bool) value { return value{str: s, ok: ok} }

func numValue(n float64) value { return value{num: n, isNum: true, ok: true} }

func (v value) String() string {
	if !v.ok {
		return ""
	}
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// number interprets the value numerically.
func (v value) number() (float64, bool) {
	if !v.ok {
		return 0, false
	}
	if v.isNum {
		return v.num, true
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// accessor resolves the remaining path segments below a root field.
type accessor func(ev *core.Event, rest []string) value

func leaf(get func(*core.Event) value) accessor {
	return func(ev *core.Event, rest []string) value {
		if len(rest) != 0 {
			return value{}
		}
		return get(ev)
	}
}

func nested(fields map[string]func(*core.Event) value) accessor {
	return func(ev *core.Event, rest []string) value {
		if len(rest) != 1 {
			return value{}
		}
		get, ok := fields[rest[0]]
		if !ok {
			return value{}
		}
		return get(ev)
	}
}

func nonEmpty(s string) value { return strValue(s, s != "") }

// roots is the accessor table over the Event union.
var roots = map[string]accessor{
	"tags": func(ev *core.Event, rest []string) value {
		if len(rest) != 1 {
			return value{}
		}
		return strValue(ev.Tags.Get(rest[0]))
	},
	"message":   leaf(func(ev *core.Event) value { return nonEmpty(ev.Message) }),
	"recipient": leaf(func(ev *core.Event) value { return nonEmpty(ev.Recipient) }),
	"username":  leaf(func(ev *core.Event) value { return nonEmpty(ev.Username) }),
	"winner":    leaf(func(ev *core.Event) value { return nonEmpty(ev.Winner) }),
	"viewers": leaf(func(ev *core.Event) value {
		if ev.Kind != core.KindHighlight {
			return value{}
		}
		return numValue(float64(ev.Viewers))
	}),
	"methods": nested(map[string]func(*core.Event) value{
		"plan": func(ev *core.Event) value {
			if ev.Methods == nil {
				return value{}
			}
			return nonEmpty(ev.Methods.Plan)
		},
	}),
	"reward": nested(map[string]func(*core.Event) value{
		"id": func(ev *core.Event) value {
			if ev.Reward == nil {
				return value{}
			}
			return nonEmpty(ev.Reward.ID)
		},
		"title": func(ev *core.Event) value {
			if ev.Reward == nil {
				return value{}
			}
			return nonEmpty(ev.Reward.Title)
		},
		"prompt": func(ev *core.Event) value {
			if ev.Reward == nil {
				return value{}
			}
			return nonEmpty(ev.Reward.Prompt)
		},
		"cost": func(ev *core.Event) value {
			if ev.Reward == nil {
				return value{}
			}
			return numValue(float64(ev.Reward.Cost))
		},
	}),
	"poll": nested(map[string]func(*core.Event) value{
		"title": func(ev *core.Event) value {
			if ev.Poll == nil {
				return value{}
			}
			return nonEmpty(ev.Poll.Title)
		},
	}),
	"prediction": nested(map[string]func(*core.Event) value{
		"title": func(ev *core.Event) value {
			if ev.Prediction == nil {
				return value{}
			}
			return nonEmpty(ev.Prediction.Title)
		},
	}),
}

// lookup walks a dotted field path. Unknown or missing fields yield an absent value.
func lookup(ev *core.Event, path string) value {
	if ev == nil || path == "" {
		return value{}
	}
	segments := strings.Split(path, ".")
	get, ok := roots[segments[0]]
	if !ok {
		return value{}
	}
	return get(ev, segments[1:])
}
