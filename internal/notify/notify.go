// Package notify maps detected timetable changes to notification messages
// and delivers them through a pluggable sink.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ralle12345/untiswatch/internal/model"
	"github.com/ralle12345/untiswatch/internal/timetable"
)

// Rules is the user-configured notification option set: which change kinds
// produce a message, and static payload data merged into every message.
type Rules struct {
	// Enabled lists the change kinds to notify about, a subset of
	// timetable.AllChangeTags.
	Enabled []string `yaml:"options" json:"options"`

	// Data is merged into every message's data map. Message-specific
	// fields win on key collision.
	Data map[string]string `yaml:"data" json:"data"`
}

// EnabledTags returns the enabled change kinds as a tag set.
func (r Rules) EnabledTags() timetable.TagSet {
	s := timetable.NewTagSet()
	for _, name := range r.Enabled {
		for _, t := range timetable.AllChangeTags {
			if string(t) == name {
				s[t] = true
			}
		}
	}
	return s
}

// DisabledTags returns the complement of EnabledTags, used as the differ's
// suppression blacklist.
func (r Rules) DisabledTags() timetable.TagSet {
	enabled := r.EnabledTags()
	s := timetable.NewTagSet()
	for _, t := range timetable.AllChangeTags {
		if !enabled.Has(t) {
			s[t] = true
		}
	}
	return s
}

// Message is one notification payload.
type Message struct {
	ID    string              `json:"id"`
	Kind  timetable.ChangeTag `json:"kind"`
	Title string              `json:"title"`
	Body  string              `json:"body"`
	Data  map[string]string   `json:"data,omitempty"`
}

// tagPriority is the fixed selection order when a block carries several
// change tags.
var tagPriority = []timetable.ChangeTag{
	timetable.ChangeCancelled,
	timetable.ChangeCode,
	timetable.ChangeRooms,
	timetable.ChangeLesson,
}

// BuildMessages turns compacted diff blocks into notification messages.
// For each block the highest-priority tag that is both present and enabled
// selects the template; blocks without any enabled tag are skipped. Output
// order follows input order.
func BuildMessages(blocks []timetable.Block, rules Rules) []Message {
	enabled := rules.EnabledTags()

	msgs := make([]Message, 0, len(blocks))
	for _, b := range blocks {
		kind, ok := selectTag(b.Tags, enabled)
		if !ok {
			continue
		}

		msg := render(kind, b)
		msg.ID = uuid.NewString()
		msg.Data = mergeData(rules.Data, msg.Data)
		msgs = append(msgs, msg)
	}
	return msgs
}

func selectTag(tags, enabled timetable.TagSet) (timetable.ChangeTag, bool) {
	for _, t := range tagPriority {
		if tags.Has(t) && enabled.Has(t) {
			return t, true
		}
	}
	return "", false
}

func render(kind timetable.ChangeTag, b timetable.Block) Message {
	l := b.Spanned()
	subject := l.SubjectName(true)
	span := formatSpan(l.Start, l.End)

	data := map[string]string{
		"kind":    string(kind),
		"subject": subject,
		"start":   l.Start.Format(time.RFC3339),
		"end":     l.End.Format(time.RFC3339),
	}
	// Rooms come from the new snapshot's version so a moved lesson reports
	// its destination, not the room it left.
	if rooms := model.NamedNames(b.New.Rooms); rooms != "" {
		data["rooms"] = rooms
	}

	var title, body string
	switch kind {
	case timetable.ChangeCancelled:
		title = "Lesson cancelled"
		body = fmt.Sprintf("%s (%s) was cancelled.", subject, span)
	case timetable.ChangeCode:
		title = "Lesson status changed"
		body = fmt.Sprintf("%s (%s) changed its status.", subject, span)
	case timetable.ChangeRooms:
		title = "Room change"
		room := model.NamedNames(b.New.Rooms)
		if room == "" {
			room = "another room"
		}
		body = fmt.Sprintf("%s (%s) moved to %s.", subject, span, room)
	default:
		title = "Timetable change"
		body = fmt.Sprintf("%s (%s) was moved or removed.", subject, span)
	}

	return Message{Kind: kind, Title: title, Body: body, Data: data}
}

// mergeData merges static rule data under message data; message keys win.
func mergeData(static, specific map[string]string) map[string]string {
	if len(static) == 0 {
		return specific
	}
	out := make(map[string]string, len(static)+len(specific))
	for k, v := range static {
		out[k] = v
	}
	for k, v := range specific {
		out[k] = v
	}
	return out
}

func formatSpan(start, end time.Time) string {
	return fmt.Sprintf("%s %s-%s",
		start.Format("02.01.2006"),
		start.Format("15:04"),
		end.Format("15:04"),
	)
}

// Sink delivers notification payloads to an external channel.
type Sink interface {
	// Send delivers one message to the given channel. Failures are
	// reported to the caller, which logs and moves on; no retry happens
	// within the same update cycle.
	Send(ctx context.Context, channelID string, msg Message) error
}
