package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Code classifies a scheduled lesson occurrence. The backend reports it as a
// free string; anything outside the known values is treated as a regular
// lesson.
type Code string

const (
	CodeRegular   Code = "regular"
	CodeCancelled Code = "cancelled"
	CodeIrregular Code = "irregular"
)

// ParseCode maps a backend code string onto one of the known values.
func ParseCode(s string) Code {
	switch Code(strings.ToLower(strings.TrimSpace(s))) {
	case CodeCancelled:
		return CodeCancelled
	case CodeIrregular:
		return CodeIrregular
	default:
		return CodeRegular
	}
}

// Named is a short/long name pair as used for rooms, teachers and klassen.
type Named struct {
	Name     string `json:"name"`
	LongName string `json:"long_name"`
}

// Subject is a Named with the backend's subject ID attached. The first
// subject of a lesson is the primary one.
type Subject struct {
	Named
	ID int64 `json:"id"`
}

// Lesson is the normalized representation of one scheduled lesson
// occurrence. Instances are treated as immutable once fetched.
type Lesson struct {
	Start time.Time
	End   time.Time

	ID           int64
	LessonNumber int64
	Code         Code
	Type         string

	Subjects []Subject

	Rooms            []Named
	OriginalRooms    []Named
	Teachers         []Named
	OriginalTeachers []Named
	Klassen          []Named

	InfoText         string
	SubstitutionText string
}

// PrimarySubject returns the first subject, or a zero Subject when the
// lesson has none.
func (l Lesson) PrimarySubject() Subject {
	if len(l.Subjects) == 0 {
		return Subject{}
	}
	return l.Subjects[0]
}

// SubjectName returns the primary subject's short or long name.
func (l Lesson) SubjectName(long bool) string {
	s := l.PrimarySubject()
	if long && s.LongName != "" {
		return s.LongName
	}
	return s.Name
}

// SortByStart orders lessons by start time, ties broken by primary subject
// name so that ordering is stable within one fetch.
func SortByStart(lessons []Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		if !lessons[i].Start.Equal(lessons[j].Start) {
			return lessons[i].Start.Before(lessons[j].Start)
		}
		return lessons[i].PrimarySubject().Name < lessons[j].PrimarySubject().Name
	})
}

// DictOptions controls which fields Dict includes.
type DictOptions struct {
	// Extended includes info/substitution text and the lesson number.
	Extended bool
	// ExcludeFields lists field names (e.g. "teachers") that must be
	// omitted, typically because the backend denied access to them.
	ExcludeFields []string
}

func (o DictOptions) excluded(field string) bool {
	for _, f := range o.ExcludeFields {
		if f == field {
			return true
		}
	}
	return false
}

// Dict renders the lesson as a JSON-friendly map. Empty optional fields are
// omitted entirely rather than emitted as null.
func (l Lesson) Dict(opts DictOptions) map[string]any {
	dic := map[string]any{
		"start": l.Start.Format(time.RFC3339),
		"end":   l.End.Format(time.RFC3339),
	}
	if l.ID != 0 {
		dic["id"] = l.ID
	}
	if l.Code != "" {
		dic["code"] = string(l.Code)
	}
	if l.Type != "" {
		dic["type"] = l.Type
	}
	if len(l.Subjects) > 0 {
		subjects := make([]map[string]string, 0, len(l.Subjects))
		for _, s := range l.Subjects {
			subjects = append(subjects, map[string]string{"name": s.Name, "long_name": s.LongName})
		}
		dic["subjects"] = subjects
	}
	if len(l.Rooms) > 0 {
		dic["rooms"] = namedDicts(l.Rooms)
	}
	if len(l.OriginalRooms) > 0 {
		dic["original_rooms"] = namedDicts(l.OriginalRooms)
	}
	if len(l.Klassen) > 0 {
		dic["klassen"] = namedDicts(l.Klassen)
	}
	if !opts.excluded("teachers") {
		if len(l.Teachers) > 0 {
			dic["teachers"] = namedDicts(l.Teachers)
		}
		if len(l.OriginalTeachers) > 0 {
			dic["original_teachers"] = namedDicts(l.OriginalTeachers)
		}
	}
	if opts.Extended {
		if l.InfoText != "" {
			dic["lstext"] = l.InfoText
		}
		if l.SubstitutionText != "" {
			dic["substText"] = l.SubstitutionText
		}
		if l.LessonNumber != 0 {
			dic["lsnumber"] = l.LessonNumber
		}
	}
	return dic
}

// DictJSON renders the lesson dict as a JSON string.
func (l Lesson) DictJSON(opts DictOptions) string {
	data, err := json.Marshal(l.Dict(opts))
	if err != nil {
		return "{}"
	}
	return string(data)
}

func namedDicts(names []Named) []map[string]string {
	out := make([]map[string]string, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]string{"name": n.Name, "long_name": n.LongName})
	}
	return out
}

// NamedNames joins the short names of a Named list, e.g. for display of a
// lesson's rooms.
func NamedNames(names []Named) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n.Name)
	}
	return strings.Join(parts, ", ")
}
