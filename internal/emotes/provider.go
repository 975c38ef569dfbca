package emotes

import (
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Emote is a third-party emote known by its code.
type Emote struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Lookup resolves a whitespace-delimited word to an emote.
type Lookup interface {
	Lookup(word string) (Emote, bool)
}

// Set is a case-insensitive emote lookup.
type Set struct {
	byName map[string]Emote
}

func NewSet(list []Emote) *Set {
	s := &Set{byName: make(map[string]Emote, len(list))}
	for _, e := range list {
		name := strings.TrimSpace(e.Name)
		if name == "" || e.ID == "" {
			continue
		}
		e.Name = name
		s.byName[strings.ToLower(name)] = e
	}
	return s
}

func (s *Set) Lookup(word string) (Emote, bool) {
	if s == nil {
		return Emote{}, false
	}
	e, ok := s.byName[strings.ToLower(word)]
	return e, ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byName)
}

// GenerateTag scans message for whole-word, case-insensitive occurrences of
// emotes known to lookup and renders them as an emote tag with ids prefixed by
// prefix+"_". Occurrences touching a protected rune are skipped.
func GenerateTag(message string, protected []bool, lookup Lookup, prefix string) string {
	if lookup == nil || message == "" {
		return ""
	}

	var found []Emote
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(message) {
		e, ok := lookup.Lookup(word)
		if !ok {
			continue
		}
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}
		found = append(found, e)
	}
	if len(found) == 0 {
		return ""
	}

	lowered := lowerRunes(message)
	var groups []string
	for _, e := range found {
		var positions []string
		name := lowerRunes(e.Name)
		for _, start := range indexAll(lowered, name) {
			end := start + len(name) - 1
			if isProtected(protected, start) || isProtected(protected, end) {
				continue
			}
			prevOK := start == 0 || unicode.IsSpace(lowered[start-1])
			nextOK := end == len(lowered)-1 || unicode.IsSpace(lowered[end+1])
			if !prevOK || !nextOK {
				continue
			}
			positions = append(positions, strconv.Itoa(start)+"-"+strconv.Itoa(end))
		}
		if len(positions) == 0 {
			continue
		}
		groups = append(groups, prefix+"_"+e.ID+":"+strings.Join(positions, ","))
	}
	return strings.Join(groups, "/")
}

// lowerRunes lowercases rune by rune so indices line up with the original text.
func lowerRunes(s string) []rune {
	r := []rune(s)
	for i := range r {
		r[i] = unicode.ToLower(r[i])
	}
	return r
}

// indexAll returns the start of every non-overlapping occurrence of needle.
func indexAll(haystack, needle []rune) []int {
	if len(needle) == 0 {
		return nil
	}
	var out []int
	for i := 0; i+len(needle) <= len(haystack); {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			out = append(out, i)
			i += len(needle)
			continue
		}
		i++
	}
	return out
}

func isProtected(protected []bool, idx int) bool {
	return idx >= 0 && idx < len(protected) && protected[idx]
}

// Provider is a named emote source; its name becomes the id prefix.
type Provider struct {
	Prefix string  `yaml:"prefix"`
	Emotes []Emote `yaml:"emotes"`

	set *Set
}

// Providers generates tags for several emote sources at once.
type Providers []*Provider

// LoadFile reads a YAML list of providers.
func LoadFile(path string) (Providers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read emotes file")
	}
	var doc struct {
		Providers []*Provider `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse emotes file %s", path)
	}
	out := make(Providers, 0, len(doc.Providers))
	for _, p := range doc.Providers {
		if p == nil || strings.TrimSpace(p.Prefix) == "" {
			continue
		}
		p.Prefix = strings.ToUpper(strings.TrimSpace(p.Prefix))
		p.set = NewSet(p.Emotes)
		out = append(out, p)
	}
	return out, nil
}

// Count returns the number of emotes across all providers.
func (ps Providers) Count() int {
	n := 0
	for _, p := range ps {
		n += p.lookup().Len()
	}
	return n
}

// Tag extends the native emote tag of message with every provider's emotes.
// Ranges claimed by earlier providers are protected from later ones.
func (ps Providers) Tag(message, native string) string {
	if len(ps) == 0 {
		return native
	}
	merged := native
	for _, p := range ps {
		protected := ProtectedRanges(message, merged)
		merged = MergeTags(merged, GenerateTag(message, protected, p.lookup(), p.Prefix))
	}
	return merged
}

func (p *Provider) lookup() *Set {
	if p.set == nil {
		p.set = NewSet(p.Emotes)
	}
	return p.set
}
