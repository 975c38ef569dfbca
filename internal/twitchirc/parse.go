package twitchirc

import (
	"strconv"
	"strings"
	"time"

	"github.com/you/gnasty-triggers/internal/core"
)

const (
	dropMalformed    = "malformed"
	dropCommand      = "not_event"
	dropChannel      = "other_channel"
	dropNoticeType   = "unsupported_usernotice"
	dropEmptyMessage = "empty_message"
)

// ircLine is one parsed IRC line with Twitch tags.
type ircLine struct {
	tags     core.Tags
	prefix   string
	command  string
	params   []string
	trailing string
}

func (l ircLine) channel() string {
	for _, p := range l.params {
		if strings.HasPrefix(p, "#") {
			return strings.ToLower(strings.TrimPrefix(p, "#"))
		}
	}
	return ""
}

func parseLine(line string) (ircLine, bool) {
	var out ircLine
	rest := line

	if strings.HasPrefix(rest, "@") {
		idx := strings.Index(rest, " ")
		if idx == -1 {
			return ircLine{}, false
		}
		out.tags = parseTags(rest[1:idx])
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if strings.HasPrefix(rest, ":") {
		idx := strings.Index(rest, " ")
		if idx == -1 {
			return ircLine{}, false
		}
		out.prefix = rest[1:idx]
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if idx := strings.Index(rest, " :"); idx != -1 {
		out.trailing = rest[idx+2:]
		rest = rest[:idx]
	} else if strings.HasPrefix(rest, ":") {
		out.trailing = rest[1:]
		rest = ""
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ircLine{}, false
	}
	out.command = strings.ToUpper(fields[0])
	out.params = fields[1:]
	return out, true
}

func parseTags(raw string) core.Tags {
	tags := core.Tags{}
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		key, val, _ := strings.Cut(kv, "=")
		tags[key] = unescapeIRC(val)
	}
	return tags
}

// toEvent classifies a PRIVMSG or USERNOTICE. The returned string is the drop
// reason when no event is produced.
func (c *Client) toEvent(l ircLine, now time.Time) (*core.Event, string) {
	if _, ok := c.channels[l.channel()]; !ok {
		return nil, dropChannel
	}
	switch l.command {
	case "PRIVMSG":
		return c.chatEvent(l, now)
	case "USERNOTICE":
		return highlightEvent(l)
	default:
		return nil, dropCommand
	}
}

func (c *Client) chatEvent(l ircLine, now time.Time) (*core.Event, string) {
	text := l.trailing
	if strings.HasPrefix(text, "\x01ACTION ") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
	}
	if strings.TrimSpace(text) == "" {
		return nil, dropEmptyMessage
	}

	tags := l.tags
	if tags == nil {
		tags = core.Tags{}
	}
	login := extractUser(l.prefix)
	if tags["username"] == "" {
		tags["username"] = login
	}
	if tags["display-name"] == "" {
		tags["display-name"] = login
	}
	if len(c.cfg.Emotes) > 0 {
		if merged := c.cfg.Emotes.Tag(text, tags["emotes"]); merged != "" {
			tags["emotes"] = merged
		}
	}

	ev := &core.Event{
		Kind:    core.KindMessage,
		Message: text,
		Tags:    tags,
	}
	if id := tags["custom-reward-id"]; id != "" {
		ev.Reward = &core.Reward{ID: id}
	}

	user := tags["user-id"]
	if user == "" {
		user = login
	}
	ev.FirstMessage = c.firsts.first(user, now)
	return ev, ""
}

func highlightEvent(l ircLine) (*core.Event, string) {
	tags := l.tags
	if tags == nil {
		tags = core.Tags{}
	}
	if tags["username"] == "" {
		tags["username"] = tags["login"]
	}

	ev := &core.Event{
		Kind:    core.KindHighlight,
		Message: l.trailing,
		Tags:    tags,
	}

	switch tags["msg-id"] {
	case "sub", "resub", "subgift", "giftpaidupgrade", "submysterygift":
		if tags["msg-id"] == "submysterygift" {
			tags["msg-id"] = "subgift"
		}
		plan := tags["msg-param-sub-plan"]
		ev.Methods = &core.SubMethods{Plan: plan, Prime: strings.EqualFold(plan, "Prime")}
		ev.Recipient = tags["msg-param-recipient-display-name"]
	case "raid":
		ev.Username = tags["msg-param-displayName"]
		if ev.Username == "" {
			ev.Username = tags["msg-param-login"]
		}
		ev.Viewers, _ = strconv.Atoi(tags["msg-param-viewerCount"])
	default:
		return nil, dropNoticeType
	}
	return ev, ""
}

func authFailure(line string) bool {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "login authentication failed") {
		return true
	}
	if strings.Contains(lower, "improperly formatted auth") {
		return true
	}
	return strings.Contains(lower, "authentication failed")
}

func extractUser(prefix string) string {
	prefix = strings.TrimPrefix(prefix, ":")
	if idx := strings.Index(prefix, "!"); idx != -1 {
		return prefix[:idx]
	}
	return prefix
}

func unescapeIRC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
