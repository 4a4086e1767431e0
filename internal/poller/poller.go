// Package poller drives the periodic update cycle for one account: fetch
// timetables from the source, derive the presentation values, diff
// against the previous snapshot and send notifications for material
// changes.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ralle12345/untiswatch/internal/calendar"
	"github.com/ralle12345/untiswatch/internal/config"
	appLog "github.com/ralle12345/untiswatch/internal/log"
	"github.com/ralle12345/untiswatch/internal/model"
	"github.com/ralle12345/untiswatch/internal/notify"
	"github.com/ralle12345/untiswatch/internal/timetable"
	"github.com/ralle12345/untiswatch/internal/untis"
)

const jsonDisabledNote = "JSON output is disabled - enable generate_json in the options"

// Source supplies raw lesson data for a date range. The session behind it
// is owned by the update cycle: Acquire/Release bracket a cycle, and
// individual fetches may take nested references.
type Source interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context)
	Timetable(ctx context.Context, start, end time.Time) ([]model.Lesson, error)
	// ExcludeField permanently drops a data field from future requests,
	// after the backend denied access to it.
	ExcludeField(field string)
}

// State carries the derived values of the most recent completed cycle.
// Pointer fields are nil when the value is absent or its computation
// failed this cycle.
type State struct {
	AccountID string    `json:"account_id"`
	UpdatedAt time.Time `json:"updated_at"`

	InClass        *bool      `json:"in_class"`
	NextClass      *time.Time `json:"next_class"`
	NextClassJSON  string     `json:"next_class_json,omitempty"`
	NextWakeLesson *time.Time `json:"next_wake_lesson"`
	NextDayJSON    string     `json:"next_day_json,omitempty"`

	Today timetable.Span `json:"today"`

	Events       []calendar.Event         `json:"events"`
	LessonCounts []timetable.SubjectCount `json:"lesson_counts"`
}

// Poller runs the update cycle for a single account. Cycles are strictly
// serialized: a tick arriving while a cycle is still running is skipped.
type Poller struct {
	acct        config.AccountConfig
	horizonDays int
	location    *time.Location

	source Source
	sink   notify.Sink

	// onExclude persists a denied field to the configuration.
	onExclude func(field string)

	busy atomic.Bool

	mu           sync.RWMutex
	state        State
	prev         []model.Lesson
	haveBaseline bool
	lessons      []model.Lesson // latest horizon snapshot for the API

	authWarned bool
	connWarned bool
	permWarned map[string]bool

	subsMu sync.Mutex
	subs   map[int]func(State)
	subSeq int

	cron *cron.Cron
	now  func() time.Time
}

// New builds a poller. onExclude may be nil when denied fields need no
// persistence (tests).
func New(acct config.AccountConfig, horizonDays int, loc *time.Location, source Source, sink notify.Sink, onExclude func(string)) *Poller {
	if loc == nil {
		loc = time.Local
	}
	return &Poller{
		acct:        acct,
		horizonDays: horizonDays,
		location:    loc,
		source:      source,
		sink:        sink,
		onExclude:   onExclude,
		permWarned:  make(map[string]bool),
		subs:        make(map[int]func(State)),
		now:         time.Now,
		state:       State{AccountID: acct.Label()},
	}
}

// Start runs one update immediately and then schedules periodic updates
// with the given cron spec. Stop tears the schedule down.
func (p *Poller) Start(ctx context.Context, cronSpec string) error {
	p.Update(ctx)

	c := cron.New()
	if _, err := c.AddFunc(cronSpec, func() { p.Update(ctx) }); err != nil {
		return err
	}
	c.Start()
	p.cron = c

	appLog.Info("poller started", "account", p.acct.Label(), "refresh", cronSpec)
	return nil
}

// Stop cancels further ticks and waits for a running cycle to finish.
func (p *Poller) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	appLog.Info("poller stopped", "account", p.acct.Label())
}

// State returns the most recent derived values.
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Lessons returns the latest horizon snapshot.
func (p *Poller) Lessons() []model.Lesson {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.Lesson, len(p.lessons))
	copy(out, p.lessons)
	return out
}

// Account returns the poller's account configuration.
func (p *Poller) Account() config.AccountConfig { return p.acct }

// Subscribe registers a callback invoked after every completed update
// cycle. The returned function unsubscribes.
func (p *Poller) Subscribe(fn func(State)) func() {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	p.subSeq++
	id := p.subSeq
	p.subs[id] = fn
	return func() {
		p.subsMu.Lock()
		defer p.subsMu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Poller) publish(st State) {
	p.subsMu.Lock()
	fns := make([]func(State), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subsMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Update runs one complete update cycle. A cycle that would overlap a
// still-running one is skipped, never run concurrently.
func (p *Poller) Update(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		appLog.Warn("update cycle still running, tick skipped", "account", p.acct.Label())
		return
	}
	defer p.busy.Store(false)

	cycle := uuid.NewString()[:8]
	now := p.now().In(p.location)

	if err := p.source.Acquire(ctx); err != nil {
		p.handleAcquireError(err)
		return
	}
	defer p.source.Release(ctx)

	st := State{AccountID: p.acct.Label(), UpdatedAt: now}

	// Today's table feeds the status and school-hours values; the
	// horizon table feeds everything else. Each step fails on its own:
	// a failed fetch leaves its values absent and the rest proceeds.
	today, todayErr := p.fetch(ctx, now, now)
	if todayErr != nil {
		p.logFetchError("today", todayErr, cycle)
	} else {
		inClass := timetable.InClass(today, p.acct.Filter, now)
		st.InClass = &inClass
		st.Today = timetable.TodaySpan(today, p.acct.Filter, now)
	}

	horizonEnd := now.AddDate(0, 0, p.horizonDays)
	horizon, horizonErr := p.fetch(ctx, now, horizonEnd)
	if horizonErr != nil {
		p.logFetchError("horizon", horizonErr, cycle)
	} else {
		p.connWarned = false
		p.authWarned = false

		p.deriveHorizon(&st, horizon, now)
		p.updateNotify(ctx, horizon)
	}

	p.mu.Lock()
	if horizonErr == nil {
		p.lessons = horizon
	}
	p.state = st
	p.mu.Unlock()

	appLog.Debug("update cycle completed", "account", p.acct.Label(), "cycle", cycle)
	p.publish(st)
}

func (p *Poller) deriveHorizon(st *State, horizon []model.Lesson, now time.Time) {
	if next := timetable.NextClass(horizon, p.acct.Filter, now); next != nil {
		t := next.Start
		st.NextClass = &t
		if p.acct.GenerateJSON {
			st.NextClassJSON = next.DictJSON(p.dictOptions())
		} else {
			st.NextClassJSON = jsonDisabledNote
		}
	}

	st.NextWakeLesson = timetable.NextWakeLesson(horizon, p.acct.Filter, now)
	if st.NextWakeLesson != nil {
		st.NextDayJSON = p.nextDayJSON(horizon, *st.NextWakeLesson)
	}

	st.Events = calendar.BuildEvents(horizon, p.acct.Filter, calendar.Options{
		LongName:       p.acct.Calendar.LongName,
		ShowCancelled:  p.acct.Calendar.ShowCancelled,
		ShowRoomChange: p.acct.Calendar.ShowRoomChange,
		Description:    p.acct.Calendar.Description,
		Room:           p.acct.Calendar.Room,
		Extended:       p.acct.ExtendedTimetable,
		ExcludeFields:  p.acct.ExcludeFields,
	})

	st.LessonCounts = timetable.CountBySubject(horizon, p.acct.Filter, false)
}

// nextDayJSON renders the wake day's active lessons as a JSON list.
func (p *Poller) nextDayJSON(horizon []model.Lesson, wake time.Time) string {
	if !p.acct.GenerateJSON {
		return jsonDisabledNote
	}
	parts := "["
	first := true
	for _, l := range horizon {
		if !p.acct.Filter.IsActive(l, false) {
			continue
		}
		if !sameDay(l.Start.In(p.location), wake.In(p.location)) {
			continue
		}
		if !first {
			parts += ", "
		}
		parts += l.DictJSON(p.dictOptions())
		first = false
	}
	return parts + "]"
}

func (p *Poller) dictOptions() model.DictOptions {
	return p.acct.DictOptions()
}

// updateNotify runs the change-detection pipeline: diff the previous
// notification candidates against the new ones, compact, map to messages
// and send. The first cycle only establishes the baseline.
func (p *Poller) updateNotify(ctx context.Context, horizon []model.Lesson) {
	if !p.acct.Notify.Enabled() {
		return
	}

	// Cancelled lessons stay in: a cancellation is a trackable change,
	// not a removal.
	candidates := timetable.Active(horizon, p.acct.Filter, true)

	p.mu.Lock()
	prev := p.prev
	baseline := p.haveBaseline
	p.prev = candidates
	p.haveBaseline = true
	p.mu.Unlock()

	if !baseline {
		return
	}

	rules := p.acct.Notify.Rules
	changes := timetable.Diff(prev, candidates, rules.DisabledTags())
	if len(changes) == 0 {
		return
	}
	appLog.Debug("timetable changed", "account", p.acct.Label(), "changes", len(changes))

	blocks := timetable.CompactChanges(changes, timetable.CompactNotify)
	msgs := notify.BuildMessages(blocks, rules)

	for _, msg := range msgs {
		if err := p.sink.Send(ctx, p.acct.Notify.ChannelID, msg); err != nil {
			appLog.Error("sending notification failed", err,
				"account", p.acct.Label(),
				"channel", p.acct.Notify.ChannelID,
			)
		}
	}
}

// fetch wraps the source fetch with permission-error recovery: a denied
// field is excluded permanently and the fetch retried once without it.
func (p *Poller) fetch(ctx context.Context, start, end time.Time) ([]model.Lesson, error) {
	lessons, err := p.source.Timetable(ctx, start, end)

	var perr *untis.PermissionError
	if errors.As(err, &perr) {
		p.excludeField(perr.Field)
		lessons, err = p.source.Timetable(ctx, start, end)
	}
	return lessons, err
}

// excludeField drops a denied field from all future requests and persists
// the exclusion. Logged once per field.
func (p *Poller) excludeField(field string) {
	p.source.ExcludeField(field)
	if p.onExclude != nil {
		p.onExclude(field)
	}
	if !p.permWarned[field] {
		p.permWarned[field] = true
		appLog.Warn("backend denied data field, excluding it from future requests",
			"account", p.acct.Label(), "field", field)
	}
}

func (p *Poller) handleAcquireError(err error) {
	now := p.now().In(p.location)

	// All computations failed; previous snapshot is retained, derived
	// values become absent.
	p.mu.Lock()
	p.state = State{AccountID: p.acct.Label(), UpdatedAt: now}
	p.mu.Unlock()

	if errors.Is(err, untis.ErrBadCredentials) {
		if !p.authWarned {
			p.authWarned = true
			appLog.Warn("login rejected, check the configured credentials",
				"account", p.acct.Label())
		}
		return
	}
	if !p.connWarned {
		p.connWarned = true
		appLog.Error("login failed", err, "account", p.acct.Label())
	}
}

func (p *Poller) logFetchError(stage string, err error, cycle string) {
	if untis.IsConnectivity(err) {
		if p.connWarned {
			return
		}
		p.connWarned = true
	}
	appLog.Error("timetable fetch failed", err,
		"account", p.acct.Label(), "stage", stage, "cycle", cycle)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
