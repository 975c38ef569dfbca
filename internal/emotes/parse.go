// Package emotes handles Twitch-style emote position tags: parsing them into
// text/emote chunks and generating them for third-party emote providers.
package emotes

import (
	"sort"
	"strconv"
	"strings"
)

// ChunkType tells text apart from emote chunks.
type ChunkType int

const (
	ChunkText ChunkType = iota
	ChunkEmote
)

// Chunk is one contiguous piece of a message.
type Chunk struct {
	Type    ChunkType
	Value   string
	EmoteID string
}

// Span is an inclusive rune range occupied by an emote.
type Span struct {
	ID    string
	Start int
	End   int
}

// ParseTag decodes an emote tag ("25:0-4,12-16/1902:6-10") into spans sorted by
// start position. Spans outside [0,length) and overlapping spans are dropped.
func ParseTag(raw string, length int) []Span {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var spans []Span
	for _, group := range strings.Split(raw, "/") {
		idx := strings.LastIndex(group, ":")
		if idx <= 0 {
			continue
		}
		id := group[:idx]
		for _, pos := range strings.Split(group[idx+1:], ",") {
			bounds := strings.SplitN(pos, "-", 2)
			if len(bounds) != 2 {
				continue
			}
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				continue
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				continue
			}
			if start < 0 || end < start || end >= length {
				continue
			}
			spans = append(spans, Span{ID: id, Start: start, End: end})
		}
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	out := spans[:0]
	last := -1
	for _, s := range spans {
		if s.Start <= last {
			continue
		}
		out = append(out, s)
		last = s.End
	}
	return out
}

// Parse splits message into text and emote chunks using the emote tag.
func Parse(message, raw string) []Chunk {
	runes := []rune(message)
	spans := ParseTag(raw, len(runes))
	if len(spans) == 0 {
		if message == "" {
			return nil
		}
		return []Chunk{{Type: ChunkText, Value: message}}
	}

	var chunks []Chunk
	cursor := 0
	for _, s := range spans {
		if s.Start > cursor {
			chunks = append(chunks, Chunk{Type: ChunkText, Value: string(runes[cursor:s.Start])})
		}
		chunks = append(chunks, Chunk{Type: ChunkEmote, Value: string(runes[s.Start : s.End+1]), EmoteID: s.ID})
		cursor = s.End + 1
	}
	if cursor < len(runes) {
		chunks = append(chunks, Chunk{Type: ChunkText, Value: string(runes[cursor:])})
	}
	return chunks
}

// PlainText drops emote chunks and joins the remaining text with single spaces.
func PlainText(message, raw string) string {
	var parts []string
	for _, c := range Parse(message, raw) {
		if c.Type != ChunkText {
			continue
		}
		if v := strings.TrimSpace(c.Value); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// ProtectedRanges marks every rune index already covered by the emote tag.
func ProtectedRanges(message, raw string) []bool {
	runes := []rune(message)
	protected := make([]bool, len(runes))
	for _, s := range ParseTag(raw, len(runes)) {
		for i := s.Start; i <= s.End; i++ {
			protected[i] = true
		}
	}
	return protected
}

// MergeTags joins non-empty emote tags with "/".
func MergeTags(tags ...string) string {
	var parts []string
	for _, t := range tags {
		if t = strings.Trim(strings.TrimSpace(t), "/"); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "/")
}
