// Package noise manages learned noise filters: patterns that suppress
// known-harmless events from log summaries and diagnose reports.
//
// Filters are scoped to an epic, a PRD, or globally, stored together in one
// yaml file under the haven, and applied in order — first match wins.
package noise

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Scope constants. Scope is "" for global filters, "epic:<E>" or
// "prd:<PRD>" otherwise.
const (
	ScopeGlobal = ""
)

// EpicScope returns the scope key for an epic.
func EpicScope(epicID string) string { return "epic:" + epicID }

// PRDScope returns the scope key for a PRD.
func PRDScope(prdID string) string { return "prd:" + prdID }

// Match is the filter predicate. All set fields must match.
type Match struct {
	// Type matches the event's type field exactly.
	Type string `yaml:"type,omitempty"`
	// Contains matches as a substring of the event text.
	Contains string `yaml:"contains,omitempty"`
	// Pattern is a regular expression over the event text.
	Pattern string `yaml:"pattern,omitempty"`
}

// Filter is one learned suppression rule.
type Filter struct {
	ID          string    `yaml:"id"`
	Description string    `yaml:"description,omitempty"`
	Scope       string    `yaml:"scope,omitempty"`
	Match       Match     `yaml:"match"`
	LearnedAt   time.Time `yaml:"learned_at"`

	re *regexp.Regexp
}

// Compile validates the filter and prepares its pattern.
func (f *Filter) Compile() error {
	if f.Match.Type == "" && f.Match.Contains == "" && f.Match.Pattern == "" {
		return fmt.Errorf("filter %s matches nothing", f.ID)
	}
	if f.Match.Pattern != "" {
		re, err := regexp.Compile(f.Match.Pattern)
		if err != nil {
			return fmt.Errorf("filter %s: bad pattern: %w", f.ID, err)
		}
		f.re = re
	}
	return nil
}

// Matches reports whether the filter suppresses an event with the given
// type and flattened text.
func (f *Filter) Matches(eventType, text string) bool {
	if f.Match.Type != "" && f.Match.Type != eventType {
		return false
	}
	if f.Match.Contains != "" && !strings.Contains(text, f.Match.Contains) {
		return false
	}
	if f.re != nil && !f.re.MatchString(text) {
		return false
	}
	return true
}

// InScope reports whether the filter applies for the given task
// coordinates. Global filters always apply.
func (f *Filter) InScope(epicID, prdID string) bool {
	switch {
	case f.Scope == ScopeGlobal:
		return true
	case f.Scope == EpicScope(epicID) && epicID != "":
		return true
	case f.Scope == PRDScope(prdID) && prdID != "":
		return true
	}
	return false
}

// Set is an ordered filter list.
type Set struct {
	Filters []*Filter `yaml:"filters"`
}

// Load reads the filter file; a missing file yields an empty set.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Set{}, nil
		}
		return nil, err
	}
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, f := range set.Filters {
		if err := f.Compile(); err != nil {
			return nil, err
		}
	}
	return &set, nil
}

// Save persists the set.
func (s *Set) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Add validates and appends a filter, assigning an id and timestamp.
func (s *Set) Add(description, scope string, match Match) (*Filter, error) {
	f := &Filter{
		ID:          uuid.NewString(),
		Description: description,
		Scope:       scope,
		Match:       match,
		LearnedAt:   time.Now().UTC(),
	}
	if err := f.Compile(); err != nil {
		return nil, err
	}
	s.Filters = append(s.Filters, f)
	return f, nil
}

// Remove deletes the filter with the given id.
func (s *Set) Remove(id string) bool {
	for i, f := range s.Filters {
		if f.ID == id {
			s.Filters = append(s.Filters[:i], s.Filters[i+1:]...)
			return true
		}
	}
	return false
}

// Suppresses reports whether any in-scope filter matches the event; the
// returned filter is the first match.
func (s *Set) Suppresses(epicID, prdID, eventType, text string) (*Filter, bool) {
	for _, f := range s.Filters {
		if !f.InScope(epicID, prdID) {
			continue
		}
		if f.Matches(eventType, text) {
			return f, true
		}
	}
	return nil, false
}
