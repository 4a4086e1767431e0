// Package web exposes the derived timetable state over HTTP: a health
// probe, status and lesson JSON APIs and an ICS calendar feed.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ralle12345/untiswatch/internal/calendar"
	"github.com/ralle12345/untiswatch/internal/config"
	appLog "github.com/ralle12345/untiswatch/internal/log"
	"github.com/ralle12345/untiswatch/internal/poller"
	"github.com/ralle12345/untiswatch/internal/timetable"
)

// Server provides the HTTP API over the pollers' state.
type Server struct {
	cfg      *config.Config
	location *time.Location
	pollers  map[string]*poller.Poller
	order    []string
	mux      *http.ServeMux
}

// NewServer constructs a Server over the given pollers, keyed by account
// label.
func NewServer(cfg *config.Config, loc *time.Location, pollers []*poller.Poller) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg:      cfg,
		location: loc,
		pollers:  make(map[string]*poller.Poller, len(pollers)),
		mux:      http.NewServeMux(),
	}
	for _, p := range pollers {
		label := p.Account().Label()
		s.pollers[label] = p
		s.order = append(s.order, label)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="untiswatch", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/lessons", s.handleLessons)
	s.mux.HandleFunc("/calendar.ics", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus returns the latest derived values.
//
// GET /api/status            -> all accounts
// GET /api/status?account=X  -> one account
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if label := r.URL.Query().Get("account"); label != "" {
		p, ok := s.pollers[label]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown account")
			return
		}
		writeJSON(w, http.StatusOK, p.State())
		return
	}

	states := make([]poller.State, 0, len(s.order))
	for _, label := range s.order {
		states = append(states, s.pollers[label].State())
	}
	writeJSON(w, http.StatusOK, states)
}

// lessonsResponse is the JSON response shape for /api/lessons.
type lessonsResponse struct {
	Account string           `json:"account"`
	From    time.Time        `json:"from"`
	To      time.Time        `json:"to"`
	Lessons []map[string]any `json:"lessons"`
}

// handleLessons returns the lessons of one account in a time range.
//
// GET /api/lessons?account=X&from=RFC3339&to=RFC3339
//   - from/to default to now .. now+7d
//   - filter=0 disables the subject filter (default on)
//   - cancelled=1 includes cancelled lessons (default off)
//   - compact=0 disables block compaction (default on)
func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pollerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}

	q := r.URL.Query()
	now := time.Now().In(s.location)
	from, err := parseTimeDefault(q.Get("from"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	to, err := parseTimeDefault(q.Get("to"), now.AddDate(0, 0, 7))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "empty time range")
		return
	}

	acct := p.Account()
	blocks := timetable.LessonsInRange(p.Lessons(), acct.Filter, from, to,
		parseBoolDefault(q.Get("filter"), true),
		parseBoolDefault(q.Get("cancelled"), false),
		parseBoolDefault(q.Get("compact"), true),
	)

	opts := acct.DictOptions()
	dicts := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		dicts = append(dicts, b.Spanned().Dict(opts))
	}

	writeJSON(w, http.StatusOK, lessonsResponse{
		Account: acct.Label(),
		From:    from,
		To:      to,
		Lessons: dicts,
	})
}

// handleCalendar serves the account's upcoming lessons as an ICS feed.
//
// GET /calendar.ics?account=X
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pollerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}

	st := p.State()
	name := p.Account().Label()

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(calendar.ToICS(st.Events, name))); err != nil {
		appLog.Error("failed to write ICS response", err)
	}
}

// pollerFor resolves the target poller from the account query parameter.
// With a single configured account the parameter may be omitted.
func (s *Server) pollerFor(r *http.Request) (*poller.Poller, bool) {
	label := r.URL.Query().Get("account")
	if label == "" && len(s.order) == 1 {
		label = s.order[0]
	}
	p, ok := s.pollers[label]
	return p, ok
}

func parseTimeDefault(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseBoolDefault(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
