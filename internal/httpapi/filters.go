package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/you/gnasty-triggers/internal/core"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Order represents the chronological order to use when listing runs.
type Order string

const (
	// OrderDesc returns runs newest first.
	OrderDesc Order = "desc"
	// OrderAsc returns runs oldest first.
	OrderAsc Order = "asc"
)

// Filters captures the parsed query parameters for run lookups.
type Filters struct {
	Outcomes []core.Outcome
	Keys     []string
	Users    []string
	Test     *bool
	Since    *time.Time
	Limit    int
	Order    Order
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{
		Limit: defaultLimit,
		Order: OrderDesc,
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "desc":
			f.Order = OrderDesc
		case "asc":
			f.Order = OrderAsc
		default:
			return Filters{}, errors.New("order must be asc or desc")
		}
	}

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	if raw := values.Get("test"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Filters{}, errors.New("test must be a boolean")
		}
		f.Test = &b
	}

	seen := make(map[core.Outcome]struct{})
	for _, part := range splitValues(values["outcome"]) {
		outcome, ok := normalizeOutcome(part)
		if !ok {
			return Filters{}, errors.New("invalid outcome filter")
		}
		if _, exists := seen[outcome]; !exists {
			f.Outcomes = append(f.Outcomes, outcome)
			seen[outcome] = struct{}{}
		}
	}

	f.Keys = splitValues(values["key"])
	for _, u := range splitValues(values["user"]) {
		f.Users = append(f.Users, strings.ToLower(u))
	}

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func splitValues(raw []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, exists := seen[part]; !exists {
				out = append(out, part)
				seen[part] = struct{}{}
			}
		}
	}
	return out
}

func normalizeOutcome(p string) (core.Outcome, bool) {
	switch o := core.Outcome(strings.ToLower(p)); o {
	case core.OutcomeExecuted, core.OutcomeRejected, core.OutcomeUnmatched,
		core.OutcomeSuperseded, core.OutcomeCanceled:
		return o, true
	default:
		return "", false
	}
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}

// Matches reports whether the provided run satisfies the filters. Keys match
// exactly or by base key ("chat-command" matches "chat-command_!hi").
func (f Filters) Matches(run core.Run) bool {
	if len(f.Outcomes) > 0 {
		match := false
		for _, o := range f.Outcomes {
			if run.Outcome == o {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Keys) > 0 {
		match := false
		for _, k := range f.Keys {
			if run.Key == k || strings.HasPrefix(run.Key, k+"_") {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Users) > 0 {
		user := strings.ToLower(run.User)
		match := false
		for _, u := range f.Users {
			if strings.Contains(user, u) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.Test != nil && run.Test != *f.Test {
		return false
	}

	if f.Since != nil && run.StartedAt.Before(f.Since.UTC()) {
		return false
	}

	return true
}

// CloneForStream returns a copy of the filters adjusted for streaming transports.
func (f Filters) CloneForStream() Filters {
	f.Limit = 0
	return f
}
