package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralle12345/untiswatch/internal/model"
	"github.com/ralle12345/untiswatch/internal/timetable"
)

func blockWith(tags ...timetable.ChangeTag) timetable.Block {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	l := model.Lesson{
		Start:    start,
		End:      start.Add(time.Hour),
		Subjects: []model.Subject{{Named: model.Named{Name: "MATH", LongName: "Mathematics"}, ID: 1}},
		Rooms:    []model.Named{{Name: "R1", LongName: "Room 1"}},
	}
	return timetable.Block{
		Start:  start,
		End:    start.Add(time.Hour),
		Lesson: l,
		New:    l,
		Tags:   timetable.NewTagSet(tags...),
	}
}

func allEnabled() Rules {
	names := make([]string, 0, len(timetable.AllChangeTags))
	for _, t := range timetable.AllChangeTags {
		names = append(names, string(t))
	}
	return Rules{Enabled: names}
}

func TestRules_EnabledAndDisabledTags(t *testing.T) {
	r := Rules{Enabled: []string{"cancelled", "rooms", "bogus"}}

	enabled := r.EnabledTags()
	assert.True(t, enabled.Has(timetable.ChangeCancelled))
	assert.True(t, enabled.Has(timetable.ChangeRooms))
	assert.False(t, enabled.Has(timetable.ChangeCode))

	disabled := r.DisabledTags()
	assert.True(t, disabled.Has(timetable.ChangeCode))
	assert.True(t, disabled.Has(timetable.ChangeLesson))
	assert.False(t, disabled.Has(timetable.ChangeCancelled))
}

func TestBuildMessages_OneMessagePerBlock(t *testing.T) {
	blocks := []timetable.Block{
		blockWith(timetable.ChangeCancelled),
		blockWith(timetable.ChangeRooms),
	}

	msgs := BuildMessages(blocks, allEnabled())

	require.Len(t, msgs, 2)
	assert.Equal(t, timetable.ChangeCancelled, msgs[0].Kind)
	assert.Equal(t, timetable.ChangeRooms, msgs[1].Kind)
	assert.NotEmpty(t, msgs[0].ID)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestBuildMessages_PriorityOrder(t *testing.T) {
	// cancelled outranks rooms outranks lesson_change.
	msgs := BuildMessages([]timetable.Block{
		blockWith(timetable.ChangeRooms, timetable.ChangeCancelled, timetable.ChangeLesson),
	}, allEnabled())

	require.Len(t, msgs, 1)
	assert.Equal(t, timetable.ChangeCancelled, msgs[0].Kind)
	assert.Equal(t, "Lesson cancelled", msgs[0].Title)
}

func TestBuildMessages_DisabledTagFallsThrough(t *testing.T) {
	rules := Rules{Enabled: []string{"rooms"}}

	msgs := BuildMessages([]timetable.Block{
		blockWith(timetable.ChangeCancelled, timetable.ChangeRooms),
	}, rules)

	require.Len(t, msgs, 1)
	assert.Equal(t, timetable.ChangeRooms, msgs[0].Kind)
}

func TestBuildMessages_NoEnabledTagSkipsBlock(t *testing.T) {
	rules := Rules{Enabled: []string{"rooms"}}

	msgs := BuildMessages([]timetable.Block{
		blockWith(timetable.ChangeCancelled),
	}, rules)

	assert.Empty(t, msgs)
}

func TestBuildMessages_BodyUsesLongNameAndSpan(t *testing.T) {
	msgs := BuildMessages([]timetable.Block{blockWith(timetable.ChangeCancelled)}, allEnabled())

	require.Len(t, msgs, 1)
	assert.Equal(t, "Mathematics (02.03.2026 08:00-09:00) was cancelled.", msgs[0].Body)
}

func TestBuildMessages_RoomChangeBody(t *testing.T) {
	b := blockWith(timetable.ChangeRooms)
	b.New.Rooms = []model.Named{{Name: "R2", LongName: "Room 2"}}

	msgs := BuildMessages([]timetable.Block{b}, allEnabled())

	require.Len(t, msgs, 1)
	// The body names the room the lesson moved to, not the one it left.
	assert.Equal(t, "Mathematics (02.03.2026 08:00-09:00) moved to R2.", msgs[0].Body)
	assert.Equal(t, "R2", msgs[0].Data["rooms"])
}

func TestBuildMessages_RoomChangeThroughPipeline(t *testing.T) {
	oldL := blockWith().Lesson
	newL := oldL
	newL.Rooms = []model.Named{{Name: "R2", LongName: "Room 2"}}

	changes := timetable.Diff([]model.Lesson{oldL}, []model.Lesson{newL}, nil)
	blocks := timetable.CompactChanges(changes, timetable.CompactNotify)
	msgs := BuildMessages(blocks, allEnabled())

	require.Len(t, msgs, 1)
	assert.Equal(t, timetable.ChangeRooms, msgs[0].Kind)
	assert.Equal(t, "Mathematics (02.03.2026 08:00-09:00) moved to R2.", msgs[0].Body)
	assert.Equal(t, "R2", msgs[0].Data["rooms"])
}

func TestBuildMessages_DataMergePrecedence(t *testing.T) {
	rules := allEnabled()
	rules.Data = map[string]string{"channel": "school", "kind": "overridden"}

	msgs := BuildMessages([]timetable.Block{blockWith(timetable.ChangeCancelled)}, rules)

	require.Len(t, msgs, 1)
	// Static data is carried, message-specific fields win on collision.
	assert.Equal(t, "school", msgs[0].Data["channel"])
	assert.Equal(t, "cancelled", msgs[0].Data["kind"])
	assert.Equal(t, "Mathematics", msgs[0].Data["subject"])
	assert.Equal(t, "R1", msgs[0].Data["rooms"])
}
