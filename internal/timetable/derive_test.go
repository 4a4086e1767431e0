package timetable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralle12345/untiswatch/internal/model"
)

func TestInClass(t *testing.T) {
	lessons := []model.Lesson{
		lessonAt(8, "MATH", model.CodeRegular),
		lessonAt(10, "GER", model.CodeCancelled),
	}
	f := FilterConfig{}

	assert.True(t, InClass(lessons, f, baseDay.Add(8*time.Hour+30*time.Minute)))
	assert.False(t, InClass(lessons, f, baseDay.Add(9*time.Hour+30*time.Minute)))
	// A cancelled lesson is not running.
	assert.False(t, InClass(lessons, f, baseDay.Add(10*time.Hour+30*time.Minute)))
	// End bound is exclusive, start bound inclusive.
	assert.True(t, InClass(lessons, f, baseDay.Add(8*time.Hour)))
	assert.False(t, InClass(lessons, f, baseDay.Add(9*time.Hour)))
}

func TestNextClass(t *testing.T) {
	lessons := []model.Lesson{
		lessonAt(8, "MATH", model.CodeRegular),
		lessonAt(13, "GER", model.CodeRegular),
		lessonAt(10, "SPORT", model.CodeCancelled),
	}
	f := FilterConfig{}

	next := NextClass(lessons, f, baseDay.Add(9*time.Hour))
	require.NotNil(t, next)
	assert.Equal(t, "GER", next.PrimarySubject().Name)

	assert.Nil(t, NextClass(lessons, f, baseDay.Add(14*time.Hour)))
}

func TestNextWakeLesson_SameDay(t *testing.T) {
	lessons := []model.Lesson{
		lessonAt(8, "MATH", model.CodeRegular),
		lessonAt(13, "GER", model.CodeRegular),
	}

	wake := NextWakeLesson(lessons, FilterConfig{}, baseDay.Add(10*time.Hour))

	require.NotNil(t, wake)
	assert.Equal(t, baseDay.Add(13*time.Hour), *wake)
}

func TestNextWakeLesson_RollsOverToNextDay(t *testing.T) {
	tomorrow := lessonAt(8, "MATH", model.CodeRegular)
	tomorrow.Start = tomorrow.Start.AddDate(0, 0, 1).Add(time.Hour)
	tomorrow.End = tomorrow.End.AddDate(0, 0, 1).Add(time.Hour)

	lessons := []model.Lesson{
		lessonAt(8, "MATH", model.CodeRegular),
		tomorrow,
	}

	wake := NextWakeLesson(lessons, FilterConfig{}, baseDay.Add(14*time.Hour))

	require.NotNil(t, wake)
	assert.Equal(t, tomorrow.Start, *wake)
}

func TestNextWakeLesson_NoUpcomingLessons(t *testing.T) {
	lessons := []model.Lesson{lessonAt(8, "MATH", model.CodeRegular)}

	assert.Nil(t, NextWakeLesson(lessons, FilterConfig{}, baseDay.AddDate(0, 0, 7)))
}

func TestTodaySpan(t *testing.T) {
	otherDay := lessonAt(7, "ENG", model.CodeRegular)
	otherDay.Start = otherDay.Start.AddDate(0, 0, 1)
	otherDay.End = otherDay.End.AddDate(0, 0, 1)

	lessons := []model.Lesson{
		lessonAt(10, "GER", model.CodeRegular),
		lessonAt(8, "MATH", model.CodeRegular),
		lessonAt(14, "BIO", model.CodeCancelled),
		otherDay,
	}

	span := TodaySpan(lessons, FilterConfig{}, baseDay.Add(12*time.Hour))

	require.NotNil(t, span.Start)
	require.NotNil(t, span.End)
	assert.Equal(t, baseDay.Add(8*time.Hour), *span.Start)
	// The cancelled 14:00 lesson does not extend the day.
	assert.Equal(t, baseDay.Add(11*time.Hour), *span.End)
}

func TestTodaySpan_EmptyDay(t *testing.T) {
	span := TodaySpan(nil, FilterConfig{}, baseDay)

	assert.Nil(t, span.Start)
	assert.Nil(t, span.End)
}

func TestCountBySubject(t *testing.T) {
	lessons := []model.Lesson{
		lessonAt(8, "MATH", model.CodeRegular),
		lessonAt(9, "MATH", model.CodeRegular),
		lessonAt(10, "GER", model.CodeRegular),
		lessonAt(11, "GER", model.CodeCancelled),
	}

	counts := CountBySubject(lessons, FilterConfig{}, false)

	require.Len(t, counts, 2)
	assert.Equal(t, SubjectCount{Subject: "MATH", Count: 2}, counts[0])
	assert.Equal(t, SubjectCount{Subject: "GER", Count: 1}, counts[1])

	withCancelled := CountBySubject(lessons, FilterConfig{}, true)
	require.Len(t, withCancelled, 2)
	assert.Equal(t, 2, withCancelled[0].Count)
	assert.Equal(t, 2, withCancelled[1].Count)
}

func TestLessonsInRange(t *testing.T) {
	lessons := []model.Lesson{
		lessonAt(8, "MATH", model.CodeRegular),
		lessonAt(9, "MATH", model.CodeRegular),
		lessonAt(10, "GER", model.CodeCancelled),
		lessonAt(14, "BIO", model.CodeRegular),
	}
	f := FilterConfig{}

	from := baseDay.Add(8 * time.Hour)
	to := baseDay.Add(12 * time.Hour)

	blocks := LessonsInRange(lessons, f, from, to, true, false, true)
	require.Len(t, blocks, 1)
	assert.Equal(t, baseDay.Add(8*time.Hour), blocks[0].Start)
	assert.Equal(t, baseDay.Add(10*time.Hour), blocks[0].End)

	withCancelled := LessonsInRange(lessons, f, from, to, true, true, true)
	assert.Len(t, withCancelled, 2)

	uncompacted := LessonsInRange(lessons, f, from, to, true, false, false)
	assert.Len(t, uncompacted, 2)
}
