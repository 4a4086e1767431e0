package timetable

import (
	"sort"
	"time"

	"github.com/ralle12345/untiswatch/internal/model"
)

// Span is a [start, end] pair where either side may be absent.
type Span struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// InClass reports whether an active lesson is running at the given time.
func InClass(lessons []model.Lesson, f FilterConfig, now time.Time) bool {
	for _, l := range lessons {
		if !f.IsActive(l, false) {
			continue
		}
		if !l.Start.After(now) && now.Before(l.End) {
			return true
		}
	}
	return false
}

// NextClass returns the earliest active lesson starting after now, or nil
// when there is none within the input. Absence is not an error.
func NextClass(lessons []model.Lesson, f FilterConfig, now time.Time) *model.Lesson {
	var next *model.Lesson
	for i := range lessons {
		l := lessons[i]
		if !f.IsActive(l, false) || !l.Start.After(now) {
			continue
		}
		if next == nil || l.Start.Before(next.Start) {
			next = &l
		}
	}
	return next
}

// NextWakeLesson returns the start of the next lesson one has to get up
// for: the first active lesson of the earliest day that still has lessons
// at or after now. Once all of today's lessons have started, the search
// rolls over to the next day's first lesson.
func NextWakeLesson(lessons []model.Lesson, f FilterConfig, now time.Time) *time.Time {
	starts := make([]time.Time, 0, len(lessons))
	for _, l := range lessons {
		if f.IsActive(l, false) {
			starts = append(starts, l.Start)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	for _, start := range starts {
		if start.Before(now) {
			continue
		}
		t := start
		return &t
	}
	return nil
}

// TodaySpan returns the earliest active lesson start and the latest active
// lesson end of the given day, or an empty span when the day has no active
// lessons.
func TodaySpan(lessons []model.Lesson, f FilterConfig, day time.Time) Span {
	var span Span
	for _, l := range lessons {
		if !f.IsActive(l, false) || !sameDay(l.Start, day) {
			continue
		}
		if span.Start == nil || l.Start.Before(*span.Start) {
			start := l.Start
			span.Start = &start
		}
		if span.End == nil || l.End.After(*span.End) {
			end := l.End
			span.End = &end
		}
	}
	return span
}

// SubjectCount is one entry of CountBySubject.
type SubjectCount struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}

// CountBySubject counts active lessons per primary subject long name,
// sorted by count descending (ties by name for a stable order).
func CountBySubject(lessons []model.Lesson, f FilterConfig, countCancelled bool) []SubjectCount {
	counts := make(map[string]int)
	for _, l := range lessons {
		if len(l.Subjects) == 0 {
			continue
		}
		if !f.IsActive(l, countCancelled) {
			continue
		}
		if !countCancelled && l.Code == model.CodeCancelled {
			continue
		}
		name := l.PrimarySubject().LongName
		if name == "" {
			name = l.PrimarySubject().Name
		}
		counts[name]++
	}

	out := make([]SubjectCount, 0, len(counts))
	for subject, n := range counts {
		out = append(out, SubjectCount{Subject: subject, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// LessonsInRange returns the active lessons between from and to
// (inclusive), dict-compacted when compact is set. Cancelled lessons are
// included only when showCancelled is set; with filterOn disabled only the
// cancellation rule applies.
func LessonsInRange(lessons []model.Lesson, f FilterConfig, from, to time.Time, filterOn, showCancelled, compact bool) []Block {
	selected := make([]model.Lesson, 0, len(lessons))
	for _, l := range lessons {
		if l.Start.Before(from) || l.Start.After(to) {
			continue
		}
		if filterOn && !f.IsActive(l, showCancelled) {
			continue
		}
		if !showCancelled && l.Code == model.CodeCancelled {
			continue
		}
		selected = append(selected, l)
	}
	model.SortByStart(selected)

	if !compact {
		blocks := make([]Block, 0, len(selected))
		for _, l := range selected {
			blocks = append(blocks, Block{Start: l.Start, End: l.End, Lesson: l, New: l})
		}
		return blocks
	}
	return Compact(selected, CompactDict)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
