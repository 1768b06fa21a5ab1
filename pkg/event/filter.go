package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Filter is a subscription query descriptor. The relay core honours only the
// first entry of Authors; Matches is the full predicate evaluation, kept
// separate for callers that want it.
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   *int                `json:"limit,omitempty"`
}

// FirstAuthor returns Authors[0] when present.
func (f Filter) FirstAuthor() (string, bool) {
	if len(f.Authors) == 0 {
		return "", false
	}
	return f.Authors[0], true
}

var namedFilterFields = map[string]bool{
	"ids": true, "authors": true, "kinds": true,
	"since": true, "until": true, "limit": true,
}

type filterFields Filter

// filterWire omits nil lists but keeps empty ones, so [] survives a round trip.
type filterWire struct {
	IDs     *[]string `json:"ids,omitempty"`
	Authors *[]string `json:"authors,omitempty"`
	Kinds   *[]int    `json:"kinds,omitempty"`
	Since   *int64    `json:"since,omitempty"`
	Until   *int64    `json:"until,omitempty"`
	Limit   *int      `json:"limit,omitempty"`
}

func present[T any](list []T) *[]T {
	if list == nil {
		return nil
	}
	return &list
}

// MarshalJSON flattens tag conditions into the top-level object.
func (f Filter) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(filterWire{
		IDs:     present(f.IDs),
		Authors: present(f.Authors),
		Kinds:   present(f.Kinds),
		Since:   f.Since,
		Until:   f.Until,
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}
	if len(f.Tags) == 0 {
		return base, nil
	}

	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		if namedFilterFields[name] {
			return nil, fmt.Errorf("filter tag %q collides with a filter field", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	first := len(base) == 2
	for _, name := range names {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(name)
		v, err := json.Marshal(f.Tags[name])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON collects every unrecognised key into Tags. Null values are
// treated as absent.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var fields filterFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for name, value := range raw {
		if namedFilterFields[name] || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		var values []string
		if err := json.Unmarshal(value, &values); err != nil {
			return fmt.Errorf("filter tag %q: %w", name, err)
		}
		if fields.Tags == nil {
			fields.Tags = make(map[string][]string)
		}
		fields.Tags[name] = values
	}

	*f = Filter(fields)
	return nil
}

// Matches evaluates every predicate of f against e (NIP-01 semantics).
// Tag conditions are keyed "#<letter>".
func (f Filter) Matches(e Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		tagName := strings.TrimPrefix(name, "#")
		if !hasTag(e, tagName, values) {
			return false
		}
	}
	return true
}

func hasTag(e Event, name string, values []string) bool {
	for _, tag := range e.Tags {
		if len(tag) < 2 || tag[0] != name {
			continue
		}
		if containsString(values, tag[1]) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
