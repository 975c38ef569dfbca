// Package template fills {TAG} placeholders in step templates with event data.
package template

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/emotes"
	"github.com/you/gnasty-triggers/internal/rules"
)

// htmlTagRe matches opening/closing tags with optional attributes; it removes
// emote and cheermote markup left in user text.
var htmlTagRe = regexp.MustCompile(`(?i)</?\w+(?:\s+[^\s/>"'=]+(?:\s*=\s*(?:".*?[^"\\]"|'.*?[^'\\]'|[^\s>"']+))?)*?>`)

// Cheermotes rewrites cheer tokens ("Cheer100") in a bits message into markup.
type Cheermotes interface {
	Render(message, roomID string) string
}

// Resolver substitutes placeholders. The zero value is not usable; call NewResolver.
type Resolver struct {
	cheermotes Cheermotes
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCheermotes overrides the cheermote renderer used for bits messages.
func WithCheermotes(c Cheermotes) Option {
	return func(r *Resolver) {
		if c != nil {
			r.cheermotes = c
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{cheermotes: DefaultCheermotes()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve replaces every placeholder registered for the base of key in tpl.
// Placeholders without a descriptor are left untouched.
func (r *Resolver) Resolve(key string, ev *core.Event, tpl string, urlEncode bool) string {
	if tpl == "" || ev == nil {
		return tpl
	}
	base := rules.Base(key)
	descriptors := registry[base]

	out := tpl
	for _, d := range descriptors {
		if !d.pattern.MatchString(out) {
			continue
		}
		v := r.value(base, ev, d)
		out = d.pattern.ReplaceAllLiteralString(out, render(v, d.Transform, urlEncode))
	}
	return out
}

func (r *Resolver) value(base string, ev *core.Event, d Descriptor) value {
	v := lookup(ev, d.Field)

	switch d.Transform {
	case TransformSubTier:
		if n, ok := v.number(); ok && n > 0 {
			return numValue(math.Round(n / 1000))
		}
		return numValue(1)
	case TransformMessage:
		if ev.Message != "" {
			raw, _ := ev.Tags.Get("emotes")
			v = strValue(emotes.PlainText(ev.Message, raw), true)
		}
		if base == rules.KeyBits && v.String() != "" && r.cheermotes != nil {
			room, _ := ev.Tags.Get("room-id")
			v = strValue(r.cheermotes.Render(v.String(), room), true)
		}
	}
	return v
}

func render(v value, tr Transform, urlEncode bool) string {
	if !v.ok {
		return ""
	}
	if v.isNum {
		return v.String()
	}
	s := htmlTagRe.ReplaceAllString(v.str, "")
	if tr == TransformMessage {
		s = strings.Join(strings.Fields(s), " ")
	}
	if urlEncode {
		s = encodeComponent(s)
	}
	return s
}

// encodeComponent percent-encodes s for use inside a URL query or path segment.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// StaticCheermotes recognizes a fixed list of cheermote prefixes.
type StaticCheermotes struct {
	prefixes map[string]struct{}
}

var cheerTokenRe = regexp.MustCompile(`(?i)\b([a-z0-9]*[a-z])(\d+)\b`)

// DefaultCheermotes covers Twitch's global cheermotes.
func DefaultCheermotes() *StaticCheermotes {
	return NewStaticCheermotes(
		"cheer", "doodlecheer", "biblethump", "cheerwhal", "corgo", "uni",
		"showlove", "party", "seemsgood", "pride", "kappa", "frankerz",
		"heyguys", "dansgame", "elegiggle", "trihard", "kreygasm", "4head",
		"swiftrage", "notlikethis", "failfish", "vohiyo", "pjsalt",
		"mrdestructoid", "bday", "ripcheer", "shamrock", "streamlabs", "muxy",
	)
}

func NewStaticCheermotes(prefixes ...string) *StaticCheermotes {
	c := &StaticCheermotes{prefixes: make(map[string]struct{}, len(prefixes))}
	for _, p := range prefixes {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			c.prefixes[p] = struct{}{}
		}
	}
	return c
}

// Render replaces recognized tokens with cheermote markup.
func (c *StaticCheermotes) Render(message, _ string) string {
	return cheerTokenRe.ReplaceAllStringFunc(message, func(tok string) string {
		m := cheerTokenRe.FindStringSubmatch(tok)
		if len(m) != 3 {
			return tok
		}
		if _, ok := c.prefixes[strings.ToLower(m[1])]; !ok {
			return tok
		}
		amount, err := strconv.Atoi(m[2])
		if err != nil {
			return tok
		}
		return `<cheer prefix="` + strings.ToLower(m[1]) + `" amount="` + strconv.Itoa(amount) + `">`
	})
}
