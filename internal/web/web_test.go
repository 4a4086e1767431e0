package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralle12345/untiswatch/internal/config"
	"github.com/ralle12345/untiswatch/internal/model"
	"github.com/ralle12345/untiswatch/internal/notify"
	"github.com/ralle12345/untiswatch/internal/poller"
)

// staticSource serves a fixed lesson list.
type staticSource struct {
	lessons []model.Lesson
}

func (s *staticSource) Acquire(context.Context) error { return nil }
func (s *staticSource) Release(context.Context)       {}
func (s *staticSource) ExcludeField(string)           {}
func (s *staticSource) Timetable(context.Context, time.Time, time.Time) ([]model.Lesson, error) {
	return s.lessons, nil
}

func upcomingLesson(offset time.Duration, subject string) model.Lesson {
	start := time.Now().Add(offset).Truncate(time.Minute)
	return model.Lesson{
		Start:    start,
		End:      start.Add(time.Hour),
		Subjects: []model.Subject{{Named: model.Named{Name: subject, LongName: subject}, ID: 1}},
		Rooms:    []model.Named{{Name: "R1", LongName: "Room 1"}},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	src := &staticSource{lessons: []model.Lesson{
		upcomingLesson(2*time.Hour, "MATH"),
		upcomingLesson(26*time.Hour, "GER"),
	}}
	acct := config.AccountConfig{ID: "test"}
	p := poller.New(acct, 30, time.UTC, src, notify.LogSink{}, nil)
	p.Update(context.Background())

	return NewServer(cfg, time.UTC, []*poller.Poller{p})
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleStatus_AllAccounts(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var states []poller.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 1)
	assert.Equal(t, "test", states[0].AccountID)
	assert.NotNil(t, states[0].NextClass)
}

func TestHandleStatus_SingleAccount(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?account=test", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var st poller.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "test", st.AccountID)
}

func TestHandleStatus_UnknownAccount(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?account=nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLessons(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lessons", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Account string           `json:"account"`
		Lessons []map[string]any `json:"lessons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The account parameter may be omitted with a single account.
	assert.Equal(t, "test", resp.Account)
	require.Len(t, resp.Lessons, 2)
}

func TestHandleLessons_BadRange(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lessons?from=not-a-time", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCalendar(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calendar.ics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, rec.Body.String(), "SUMMARY:MATH")
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	srv := newTestServer(t, cfg)
	h := srv.Handler()

	// /health stays open.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// API without credentials is rejected.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	// Wrong password is rejected.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "wrong")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct credentials pass.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "pw")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
