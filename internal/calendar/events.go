// Package calendar builds display events from the filtered timetable and
// serializes them as an iCalendar feed.
package calendar

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/ralle12345/untiswatch/internal/model"
	"github.com/ralle12345/untiswatch/internal/timetable"
)

// Options controls how lessons are rendered as events.
type Options struct {
	// LongName uses the subject long name as summary.
	LongName bool
	// ShowCancelled includes cancelled lessons (with a prefix).
	ShowCancelled bool
	// ShowRoomChange prefixes events whose room was substituted.
	ShowRoomChange bool
	// Description is "none", "json" or "lesson_info".
	Description string
	// Room is "none", "short", "long" or "short_long" and selects the
	// event location.
	Room string
	// Extended passes the extended lesson fields into JSON descriptions.
	Extended bool
	// ExcludeFields is carried into JSON descriptions.
	ExcludeFields []string
}

// Event is one calendar entry.
type Event struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Cancelled   bool      `json:"cancelled,omitempty"`
}

// BuildEvents filters the lessons, compacts back-to-back identical ones
// and renders them as calendar events in start order.
func BuildEvents(lessons []model.Lesson, f timetable.FilterConfig, opts Options) []Event {
	active := timetable.Active(lessons, f, opts.ShowCancelled)
	blocks := timetable.Compact(active, timetable.CompactCalendar)

	events := make([]Event, 0, len(blocks))
	for _, b := range blocks {
		events = append(events, buildEvent(b.Spanned(), opts))
	}
	return events
}

func buildEvent(l model.Lesson, opts Options) Event {
	summary := l.SubjectName(opts.LongName)

	if opts.ShowRoomChange && len(l.OriginalRooms) > 0 {
		summary = "Room change: " + summary
	}
	cancelled := l.Code == model.CodeCancelled
	if cancelled {
		summary = "Cancelled: " + summary
	}

	ev := Event{
		Summary:   summary,
		Start:     l.Start,
		End:       l.End,
		Cancelled: cancelled,
	}

	switch opts.Description {
	case "json":
		ev.Description = l.DictJSON(model.DictOptions{
			Extended:      opts.Extended,
			ExcludeFields: opts.ExcludeFields,
		})
	case "lesson_info":
		ev.Description = l.SubstitutionText
	}

	if len(l.Rooms) > 0 {
		room := l.Rooms[0]
		switch opts.Room {
		case "short":
			ev.Location = room.Name
		case "long":
			ev.Location = room.LongName
		case "short_long":
			ev.Location = fmt.Sprintf("%s - %s", room.Name, room.LongName)
		}
	}

	return ev
}

// ToICS serializes events into an iCalendar document. Event UIDs are
// derived from start time, summary and location so the feed stays stable
// across polls.
func ToICS(events []Event, name string) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//untiswatch//EN")
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	seen := make(map[string]int, len(events))
	for _, ev := range events {
		base := fmt.Sprintf("%s-%x", ev.Start.UTC().Format("20060102T150405Z"), hashString(ev.Summary+"\x00"+ev.Location))
		// Parallel lessons can share start, summary and even location;
		// number the repeats so UIDs stay unique within the feed. The
		// input is start-ordered with stable ties, so numbering is stable
		// across polls.
		n := seen[base]
		seen[base]++
		if n > 0 {
			base = fmt.Sprintf("%s-%d", base, n)
		}
		uid := base + "@untiswatch"
		ve := cal.AddEvent(uid)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Summary)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Cancelled {
			ve.SetStatus(ics.ObjectStatusCancelled)
		}
		ve.SetDtStampTime(ev.Start)
	}

	return cal.Serialize(ics.WithNewLineWindows)
}

// hashString is a small FNV-1a, enough to keep UID text compact.
func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
