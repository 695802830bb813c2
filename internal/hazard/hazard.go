// Package hazard implements the hazard-set algebra shared by contract
// extraction and firmware scanning.
//
// Hazards are harvested purely lexically: every "Hazard::Identifier" token in
// a span of source text contributes "Identifier" to the set. No attempt is made
// to resolve the identifier against the framework's hazard enumeration.
package hazard

import (
	"encoding/json"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// tokenRe matches a hazard written as Hazard::Name. Rust identifiers may be
// non-ASCII, so word characters are the Unicode classes rather than \w.
var tokenRe = regexp.MustCompile(`Hazard::([\p{L}\p{M}\p{N}\p{Pc}]+)`)

// Set is an unordered, case-sensitive set of hazard identifiers.
// The zero value (nil) is a valid empty set for reads.
type Set map[string]struct{}

// New returns a set holding ids.
func New(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// FromText harvests every hazard token found in text. It never fails: text
// without tokens yields an empty, non-nil set.
func FromText(text string) Set {
	s := make(Set)
	for _, m := range tokenRe.FindAllStringSubmatch(text, -1) {
		s[m[1]] = struct{}{}
	}
	return s
}

// Has reports whether id is in s.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of hazards in s.
func (s Set) Len() int { return len(s) }

// Difference returns the hazards in s that are not in other.
func (s Set) Difference(other Set) Set {
	out := make(Set)
	for id := range s {
		if !other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Union returns a new set with the hazards of s and other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Equal reports whether s and other hold the same hazards. A nil set equals
// an empty one.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	return s.Union(nil)
}

// Sorted returns the hazards in lexical order. Always non-nil.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array; an empty set is [].
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of strings. null decodes to an empty set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = New(ids...)
	return nil
}

// MarshalYAML encodes the set as a sorted sequence.
func (s Set) MarshalYAML() (any, error) {
	return s.Sorted(), nil
}

// UnmarshalYAML decodes a sequence of strings.
func (s *Set) UnmarshalYAML(value *yaml.Node) error {
	var ids []string
	if err := value.Decode(&ids); err != nil {
		return err
	}
	*s = New(ids...)
	return nil
}
