package poller

import (
	"context"
	"sync"
	"time"

	"github.com/ralle12345/untiswatch/internal/model"
	"github.com/ralle12345/untiswatch/internal/untis"
)

// untisSource adapts a WebUntis session to the Source interface. The
// exclusion list grows at runtime when the backend denies a field.
type untisSource struct {
	session *untis.Session
	elem    untis.Element
	ext     bool

	mu      sync.Mutex
	exclude []string
}

// NewUntisSource builds a Source backed by a WebUntis session.
func NewUntisSource(session *untis.Session, elem untis.Element, extended bool, exclude []string) Source {
	s := &untisSource{session: session, elem: elem, ext: extended}
	s.exclude = append(s.exclude, exclude...)
	return s
}

func (s *untisSource) Acquire(ctx context.Context) error { return s.session.Acquire(ctx) }

func (s *untisSource) Release(ctx context.Context) { s.session.Release(ctx) }

func (s *untisSource) Timetable(ctx context.Context, start, end time.Time) ([]model.Lesson, error) {
	s.mu.Lock()
	opts := untis.TimetableOptions{
		Extended:      s.ext,
		ExcludeFields: append([]string(nil), s.exclude...),
	}
	s.mu.Unlock()

	var lessons []model.Lesson
	err := s.session.WithSession(ctx, func(c *untis.Client) error {
		var err error
		lessons, err = c.Timetable(ctx, s.elem, start, end, opts)
		return err
	})
	return lessons, err
}

func (s *untisSource) ExcludeField(field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.exclude {
		if f == field {
			return
		}
	}
	s.exclude = append(s.exclude, field)
}
