package timetable

import (
	"sort"

	"github.com/ralle12345/untiswatch/internal/model"
)

// ChangeTag classifies what changed between two snapshot versions of the
// same lesson.
type ChangeTag string

const (
	// ChangeCancelled marks a lesson whose code switched to cancelled.
	ChangeCancelled ChangeTag = "cancelled"
	// ChangeRooms marks a room change.
	ChangeRooms ChangeTag = "rooms"
	// ChangeLesson marks a moved or removed lesson (start/end changed, or
	// the lesson vanished from the new snapshot).
	ChangeLesson ChangeTag = "lesson_change"
	// ChangeCode marks any other code transition (e.g. regular to
	// irregular, or a cancellation being revoked).
	ChangeCode ChangeTag = "code"
)

// AllChangeTags lists every tag the differ can emit.
var AllChangeTags = []ChangeTag{ChangeCancelled, ChangeRooms, ChangeLesson, ChangeCode}

// TagSet is a set of change tags.
type TagSet map[ChangeTag]bool

// NewTagSet builds a set from the given tags.
func NewTagSet(tags ...ChangeTag) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = true
	}
	return s
}

// Has reports set membership; safe on a nil set.
func (s TagSet) Has(t ChangeTag) bool { return s[t] }

// Empty reports whether the set has no members.
func (s TagSet) Empty() bool { return len(s) == 0 }

// Tags returns the members in the fixed AllChangeTags order.
func (s TagSet) Tags() []ChangeTag {
	out := make([]ChangeTag, 0, len(s))
	for _, t := range AllChangeTags {
		if s[t] {
			out = append(out, t)
		}
	}
	return out
}

// Equal reports whether two sets have the same members.
func (s TagSet) Equal(o TagSet) bool {
	if len(s) != len(o) {
		return false
	}
	for t := range s {
		if !o[t] {
			return false
		}
	}
	return true
}

// Change is one lesson from the old snapshot together with the tags
// describing how the new snapshot differs from it. New carries the new
// snapshot's version of the lesson, so consumers can render post-change
// values (the room a lesson moved to, not the one it left); for removed
// lessons New equals Lesson.
type Change struct {
	Lesson model.Lesson
	New    model.Lesson
	Tags   TagSet
}

// lessonKey is the stable identity used to match lessons across snapshots.
// The subject/lesson-number pair survives time and room moves; when either
// piece is missing the key falls back to start time plus subject name,
// which is self-consistent within one fetch.
type lessonKey struct {
	subjectID    int64
	lessonNumber int64
	startUnix    int64
	subject      string
	fallback     bool
}

func keyFor(l model.Lesson) lessonKey {
	subjectID := l.PrimarySubject().ID
	if subjectID != 0 && l.LessonNumber != 0 {
		return lessonKey{subjectID: subjectID, lessonNumber: l.LessonNumber}
	}
	return lessonKey{
		startUnix: l.Start.Unix(),
		subject:   l.PrimarySubject().Name,
		fallback:  true,
	}
}

// Diff compares two ordered lesson lists and reports, for every lesson of
// the old snapshot, whether it was removed or materially changed in the new
// one. Both inputs are expected to already be filtered to "active ignoring
// cancellation", so that a cancellation shows up as a change rather than a
// removal.
//
// Lessons that only exist in the new snapshot are not reported: a brand-new
// future lesson appearing is not alert-worthy on its own.
//
// Tags in blacklist are stripped before a change is reported; a lesson
// whose only changes are blacklisted produces no output. The result is
// ordered by lesson start.
func Diff(oldLessons, newLessons []model.Lesson, blacklist TagSet) []Change {
	index := make(map[lessonKey]model.Lesson, len(newLessons))
	for _, l := range newLessons {
		index[keyFor(l)] = l
	}

	changes := make([]Change, 0)
	for _, oldL := range oldLessons {
		newL, ok := index[keyFor(oldL)]

		var tags TagSet
		if !ok {
			newL = oldL
			tags = NewTagSet(ChangeLesson)
		} else {
			tags = classify(oldL, newL)
		}

		tags = withoutTags(tags, blacklist)
		if tags.Empty() {
			continue
		}
		changes = append(changes, Change{Lesson: oldL, New: newL, Tags: tags})
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Lesson.Start.Before(changes[j].Lesson.Start)
	})
	return changes
}

// classify compares the fields of two versions of one lesson.
func classify(oldL, newL model.Lesson) TagSet {
	tags := NewTagSet()

	if oldL.Code != newL.Code {
		if newL.Code == model.CodeCancelled {
			tags[ChangeCancelled] = true
		} else {
			tags[ChangeCode] = true
		}
	}
	if !namedEqual(oldL.Rooms, newL.Rooms) {
		tags[ChangeRooms] = true
	}
	if !oldL.Start.Equal(newL.Start) || !oldL.End.Equal(newL.End) {
		tags[ChangeLesson] = true
	}

	return tags
}

func withoutTags(tags, blacklist TagSet) TagSet {
	if blacklist.Empty() {
		return tags
	}
	out := NewTagSet()
	for t := range tags {
		if !blacklist[t] {
			out[t] = true
		}
	}
	return out
}

func namedEqual(a, b []model.Named) bool {
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
