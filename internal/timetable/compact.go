package timetable

import (
	"time"

	"github.com/ralle12345/untiswatch/internal/model"
)

// CompactMode selects which fields define "identical" when adjacent
// lessons are merged into blocks.
type CompactMode string

const (
	// CompactCalendar merges for calendar display: subjects, rooms and
	// code must match.
	CompactCalendar CompactMode = "calendar"
	// CompactNotify merges diff results: like calendar, but the change
	// tag sets must match too.
	CompactNotify CompactMode = "notify"
	// CompactDict merges for JSON output: full attribute identity
	// including teachers and klassen.
	CompactDict CompactMode = "dict"
)

// Block is a merged run of back-to-back identical lessons. Lesson carries
// the shared field values (taken from the first lesson of the run); Start
// and End span the whole block. New is the new snapshot's version when the
// block came out of a diff, and equals Lesson otherwise.
type Block struct {
	Start  time.Time
	End    time.Time
	Lesson model.Lesson
	New    model.Lesson
	Tags   TagSet
}

// Spanned returns the block's representative lesson with start and end
// widened to the merged span.
func (b Block) Spanned() model.Lesson {
	l := b.Lesson
	l.Start = b.Start
	l.End = b.End
	return l
}

// Compact merges consecutive lessons with identical mode-relevant
// attributes into single blocks. A lesson extends the current block only
// when its start equals the block's end exactly (back-to-back, no gap) and
// its fields match under the given mode. Single pass, no reordering, no
// lookahead; input must already be in start order.
//
// Compacting an already-compacted sequence yields the same sequence.
func Compact(lessons []model.Lesson, mode CompactMode) []Block {
	changes := make([]Change, 0, len(lessons))
	for _, l := range lessons {
		changes = append(changes, Change{Lesson: l, New: l})
	}
	return CompactChanges(changes, mode)
}

// CompactChanges is Compact over diff output, so that notification blocks
// keep their change tags.
func CompactChanges(changes []Change, mode CompactMode) []Block {
	blocks := make([]Block, 0, len(changes))

	var cur *Block
	for _, c := range changes {
		if cur != nil && c.Lesson.Start.Equal(cur.End) && sameBlock(cur, c, mode) {
			cur.End = c.Lesson.End
			continue
		}
		if cur != nil {
			blocks = append(blocks, *cur)
		}
		cur = &Block{
			Start:  c.Lesson.Start,
			End:    c.Lesson.End,
			Lesson: c.Lesson,
			New:    c.New,
			Tags:   c.Tags,
		}
	}
	if cur != nil {
		blocks = append(blocks, *cur)
	}

	return blocks
}

func sameBlock(cur *Block, c Change, mode CompactMode) bool {
	a, b := cur.Lesson, c.Lesson

	if !subjectsEqual(a.Subjects, b.Subjects) {
		return false
	}
	if !namedEqual(a.Rooms, b.Rooms) {
		return false
	}
	if a.Code != b.Code {
		return false
	}

	switch mode {
	case CompactNotify:
		if !cur.Tags.Equal(c.Tags) {
			return false
		}
		if !namedEqual(cur.New.Rooms, c.New.Rooms) {
			return false
		}
	case CompactDict:
		if !namedEqual(a.Teachers, b.Teachers) || !namedEqual(a.Klassen, b.Klassen) {
			return false
		}
	}

	return true
}

func subjectsEqual(a, b []model.Subject) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
