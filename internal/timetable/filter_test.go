package timetable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ralle12345/untiswatch/internal/model"
)

// baseDay is a Monday; all test lessons hang off it.
var baseDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// lessonAt builds a one-hour lesson starting at the given hour of baseDay.
func lessonAt(hour int, subject string, code model.Code) model.Lesson {
	return model.Lesson{
		Start:    baseDay.Add(time.Duration(hour) * time.Hour),
		End:      baseDay.Add(time.Duration(hour+1) * time.Hour),
		Code:     code,
		Subjects: []model.Subject{{Named: model.Named{Name: subject, LongName: subject}, ID: subjectID(subject)}},
		Rooms:    []model.Named{{Name: "R1", LongName: "Room 1"}},
	}
}

// subjectID derives a stable fake backend ID from the short name.
func subjectID(name string) int64 {
	var id int64
	for _, r := range name {
		id = id*31 + int64(r)
	}
	return id
}

func TestIsActive_CancelledLessons(t *testing.T) {
	f := FilterConfig{}
	l := lessonAt(8, "MATH", model.CodeCancelled)

	assert.False(t, f.IsActive(l, false))
	assert.True(t, f.IsActive(l, true))
}

func TestIsActive_NoSubject(t *testing.T) {
	f := FilterConfig{}
	l := lessonAt(8, "MATH", model.CodeRegular)
	l.Subjects = nil

	assert.False(t, f.IsActive(l, false))
	assert.False(t, f.IsActive(l, true))
}

func TestIsActive_ExcludedText(t *testing.T) {
	f := FilterConfig{ExcludedText: []string{"Klausur", "entfällt"}}

	l := lessonAt(8, "MATH", model.CodeRegular)
	assert.True(t, f.IsActive(l, false))

	l.InfoText = "Klausur Q2"
	assert.False(t, f.IsActive(l, false))

	l.InfoText = ""
	l.SubstitutionText = "Vertretung entfällt heute"
	assert.False(t, f.IsActive(l, false))
}

func TestIsActive_EmptyExcludedFragmentIgnored(t *testing.T) {
	f := FilterConfig{ExcludedText: []string{""}}
	l := lessonAt(8, "MATH", model.CodeRegular)

	assert.True(t, f.IsActive(l, false))
}

func TestIsActive_Blacklist(t *testing.T) {
	f := FilterConfig{Mode: FilterBlacklist, Subjects: []string{"SPORT"}}

	assert.False(t, f.IsActive(lessonAt(8, "SPORT", model.CodeRegular), false))
	assert.True(t, f.IsActive(lessonAt(8, "MATH", model.CodeRegular), false))
}

func TestIsActive_Whitelist(t *testing.T) {
	f := FilterConfig{Mode: FilterWhitelist, Subjects: []string{"MATH"}}

	assert.True(t, f.IsActive(lessonAt(8, "MATH", model.CodeRegular), false))
	assert.False(t, f.IsActive(lessonAt(8, "SPORT", model.CodeRegular), false))
}

func TestIsActive_EmptyWhitelistPassesEverything(t *testing.T) {
	f := FilterConfig{Mode: FilterWhitelist}

	assert.True(t, f.IsActive(lessonAt(8, "MATH", model.CodeRegular), false))
	assert.True(t, f.IsActive(lessonAt(8, "SPORT", model.CodeRegular), false))
}

func TestIsActive_ChecksPrimarySubjectOnly(t *testing.T) {
	f := FilterConfig{Mode: FilterBlacklist, Subjects: []string{"SPORT"}}

	l := lessonAt(8, "MATH", model.CodeRegular)
	l.Subjects = append(l.Subjects, model.Subject{Named: model.Named{Name: "SPORT"}})

	assert.True(t, f.IsActive(l, false))
}

func TestIsActive_Deterministic(t *testing.T) {
	f := FilterConfig{
		Mode:         FilterBlacklist,
		Subjects:     []string{"SPORT"},
		ExcludedText: []string{"Klausur"},
	}
	lessons := []model.Lesson{
		lessonAt(8, "MATH", model.CodeRegular),
		lessonAt(9, "SPORT", model.CodeRegular),
		lessonAt(10, "GER", model.CodeCancelled),
	}
	lessons[0].InfoText = "Klausur Q2"

	for _, l := range lessons {
		for _, ignoreCancelled := range []bool{false, true} {
			first := f.IsActive(l, ignoreCancelled)
			second := f.IsActive(l, ignoreCancelled)
			assert.Equal(t, first, second)
		}
	}
}

func TestActive_FiltersAndSorts(t *testing.T) {
	f := FilterConfig{Mode: FilterBlacklist, Subjects: []string{"SPORT"}}
	lessons := []model.Lesson{
		lessonAt(10, "MATH", model.CodeRegular),
		lessonAt(8, "GER", model.CodeRegular),
		lessonAt(9, "SPORT", model.CodeRegular),
		lessonAt(11, "ENG", model.CodeCancelled),
	}

	got := Active(lessons, f, false)

	assert.Len(t, got, 2)
	assert.Equal(t, "GER", got[0].PrimarySubject().Name)
	assert.Equal(t, "MATH", got[1].PrimarySubject().Name)
}
