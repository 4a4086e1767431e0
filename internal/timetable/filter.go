// Package timetable implements the lesson pipeline: filtering lessons down
// to the ones that actually take place, diffing two timetable snapshots,
// compacting adjacent identical lessons into blocks, and deriving the
// presentation values (current status, next class, wake-up lesson, today's
// school hours).
package timetable

import (
	"strings"

	"github.com/ralle12345/untiswatch/internal/model"
)

// FilterMode selects how the subject list of a FilterConfig is interpreted.
type FilterMode string

const (
	FilterNone      FilterMode = "none"
	FilterBlacklist FilterMode = "blacklist"
	FilterWhitelist FilterMode = "whitelist"
)

// FilterConfig decides whether a lesson counts as active. It is immutable
// for the lifetime of one update cycle.
type FilterConfig struct {
	Mode FilterMode `yaml:"mode" json:"mode"`

	// Subjects is the blacklist or whitelist of primary subject short names.
	Subjects []string `yaml:"subjects" json:"subjects"`

	// ExcludedText lists fragments; a lesson whose info or substitution
	// text contains any of them is never active.
	ExcludedText []string `yaml:"excluded_text" json:"excluded_text"`
}

// IsActive reports whether the lesson takes place under this filter.
// Rules are applied in order and short-circuit on the first failure:
//
//  1. cancelled lessons are inactive unless ignoreCancelled is set
//  2. lessons without a subject are never active
//  3. lessons whose texts contain an excluded fragment are inactive
//  4. blacklist mode drops lessons whose primary subject is listed
//  5. whitelist mode (with a non-empty list) drops unlisted subjects
//
// The predicate is pure: the same inputs always yield the same result.
func (f FilterConfig) IsActive(l model.Lesson, ignoreCancelled bool) bool {
	if l.Code == model.CodeCancelled && !ignoreCancelled {
		return false
	}

	if len(l.Subjects) == 0 {
		return false
	}

	for _, fragment := range f.ExcludedText {
		if fragment == "" {
			continue
		}
		if strings.Contains(l.InfoText, fragment) || strings.Contains(l.SubstitutionText, fragment) {
			return false
		}
	}

	primary := l.PrimarySubject().Name
	switch f.Mode {
	case FilterBlacklist:
		if containsString(f.Subjects, primary) {
			return false
		}
	case FilterWhitelist:
		if len(f.Subjects) > 0 && !containsString(f.Subjects, primary) {
			return false
		}
	}

	return true
}

// Active returns the lessons that pass the filter, in start order.
func Active(lessons []model.Lesson, f FilterConfig, ignoreCancelled bool) []model.Lesson {
	out := make([]model.Lesson, 0, len(lessons))
	for _, l := range lessons {
		if f.IsActive(l, ignoreCancelled) {
			out = append(out, l)
		}
	}
	model.SortByStart(out)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
