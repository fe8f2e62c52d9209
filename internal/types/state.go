package types

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// COMPOSED STATE
// =============================================================================

// Fragment is one provider's contribution to composed state: named fields
// merged into the state map. Later providers may overwrite earlier fields.
type Fragment map[string]any

// State is the ephemeral per-run aggregate the composer builds for one
// pipeline invocation. It is never persisted and never shared across runs.
// Field insertion order is preserved so prompt rendering is deterministic.
type State struct {
	fields map[string]any
	order  []string
}

// NewState returns an empty state.
func NewState() *State {
	return &State{fields: make(map[string]any)}
}

// Set stores a field, keeping first-set ordering for Render.
func (s *State) Set(key string, value any) {
	if _, ok := s.fields[key]; !ok {
		s.order = append(s.order, key)
	}
	s.fields[key] = value
}

// Merge applies a fragment field by field.
func (s *State) Merge(frag Fragment) {
	keys := make([]string, 0, len(frag))
	for k := range frag {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Set(k, frag[k])
	}
}

// Get returns a field and whether it was set.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.fields[key]
	return v, ok
}

// Text returns a field as a string, empty if unset or not a string.
func (s *State) Text(key string) string {
	if v, ok := s.fields[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

// Keys returns field names in first-set order.
func (s *State) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of fields.
func (s *State) Len() int {
	return len(s.fields)
}

// Render flattens the state into a prompt block. String and []string
// fields are emitted as sections in first-set order; other values are
// available programmatically but stay out of the prompt.
func (s *State) Render() string {
	var b strings.Builder
	for _, key := range s.order {
		switch v := s.fields[key].(type) {
		case string:
			if v == "" {
				continue
			}
			fmt.Fprintf(&b, "# %s\n%s\n\n", key, v)
		case []string:
			if len(v) == 0 {
				continue
			}
			fmt.Fprintf(&b, "# %s\n%s\n\n", key, strings.Join(v, "\n"))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
