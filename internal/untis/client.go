// Package untis implements the WebUntis JSON-RPC 2.0 client used as the
// timetable source: session authentication, timetable retrieval for a date
// range, and the error taxonomy the rest of the application relies on.
package untis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	appLog "github.com/ralle12345/untiswatch/internal/log"
	"github.com/ralle12345/untiswatch/internal/model"
)

const userAgent = "untiswatch"

// ElementType identifies whose timetable is requested.
type ElementType int

const (
	ElementKlasse  ElementType = 1
	ElementTeacher ElementType = 2
	ElementStudent ElementType = 5
)

// ParseElementType maps the config's source type string.
func ParseElementType(s string) (ElementType, error) {
	switch s {
	case "klasse", "class":
		return ElementKlasse, nil
	case "teacher":
		return ElementTeacher, nil
	case "student":
		return ElementStudent, nil
	default:
		return 0, fmt.Errorf("untis: unknown timetable source type %q", s)
	}
}

// Element is the timetable subject descriptor (a student, klasse or
// teacher).
type Element struct {
	Type ElementType
	ID   int64
}

// Client talks to one WebUntis school backend.
type Client struct {
	baseURL    string // e.g. https://example.webuntis.com/WebUntis/jsonrpc.do?school=gym
	username   string
	password   string
	httpClient *http.Client
	location   *time.Location

	sessionID atomic.Value // string
	reqSeq    atomic.Int64
}

// NewClient builds a client for the given server host and school.
func NewClient(server, school, username, password string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.Local
	}
	c := &Client{
		baseURL:  fmt.Sprintf("https://%s/WebUntis/jsonrpc.do?school=%s", server, url.QueryEscape(school)),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		location: loc,
	}
	c.sessionID.Store("")
	return c
}

// rpcRequest / rpcResponse are the JSON-RPC 2.0 envelopes.
type rpcRequest struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	JSONRPC string `json:"jsonrpc"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip. field names the data field the
// request is about, for permission error mapping.
func (c *Client) call(ctx context.Context, method, field string, params, result any) error {
	if params == nil {
		params = map[string]any{}
	}
	req := rpcRequest{
		ID:      fmt.Sprintf("req-%d", c.reqSeq.Add(1)),
		Method:  method,
		Params:  params,
		JSONRPC: "2.0",
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("untis: marshal %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("untis: %s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if sid := c.sessionID.Load().(string); sid != "" {
		httpReq.Header.Set("Cookie", "JSESSIONID="+sid)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &ConnectivityError{Err: fmt.Errorf("%s: status %d", method, resp.StatusCode)}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return &ConnectivityError{Err: fmt.Errorf("%s: decode: %w", method, err)}
	}
	if envelope.Error != nil {
		return mapRPCError(envelope.Error, field)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("untis: %s: decode result: %w", method, err)
		}
	}
	return nil
}

// authResult is the authenticate response payload.
type authResult struct {
	SessionID  string `json:"sessionId"`
	PersonType int    `json:"personType"`
	PersonID   int64  `json:"personId"`
	KlasseID   int64  `json:"klasseId"`
}

// Login authenticates and stores the session cookie for subsequent calls.
func (c *Client) Login(ctx context.Context) error {
	params := map[string]any{
		"user":     c.username,
		"password": c.password,
		"client":   userAgent,
	}
	var res authResult
	if err := c.call(ctx, "authenticate", "", params, &res); err != nil {
		return err
	}
	if res.SessionID == "" {
		return &ConnectivityError{Err: errors.New("authenticate: empty session id")}
	}
	c.sessionID.Store(res.SessionID)
	appLog.Debug("untis login successful", "user", c.username)
	return nil
}

// Logout invalidates the backend session. Errors are reduced to logging
// concerns by the caller; a failed logout only leaves a session to expire
// server-side.
func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, "logout", "", nil, nil)
	c.sessionID.Store("")
	return err
}

// LoggedIn reports whether the client currently holds a session cookie.
// The cookie may still have expired server-side; callers handle
// ErrNotLoggedIn by re-acquiring.
func (c *Client) LoggedIn() bool {
	return c.sessionID.Load().(string) != ""
}

// TimetableOptions tunes a timetable request.
type TimetableOptions struct {
	// Extended asks the backend for substitution texts and lesson info.
	Extended bool
	// ExcludeFields lists data fields (e.g. "teachers") that must not be
	// requested, typically after a PermissionError.
	ExcludeFields []string
}

func (o TimetableOptions) excluded(field string) bool {
	for _, f := range o.ExcludeFields {
		if f == field {
			return true
		}
	}
	return false
}

// Timetable fetches the lessons of elem between start and end (inclusive,
// whole days), sorted by start time.
func (c *Client) Timetable(ctx context.Context, elem Element, start, end time.Time, opts TimetableOptions) ([]model.Lesson, error) {
	fields := []string{"id", "name", "longname"}
	options := map[string]any{
		"element": map[string]any{
			"id":      elem.ID,
			"type":    int(elem.Type),
			"keyType": "id",
		},
		"startDate":     untisDate(start),
		"endDate":       untisDate(end),
		"showSubstText": opts.Extended,
		"showLsText":    opts.Extended,
		"klasseFields":  fields,
		"roomFields":    fields,
		"subjectFields": fields,
	}
	if !opts.excluded("teachers") {
		options["teacherFields"] = fields
	}

	var periods []periodDTO
	err := c.call(ctx, "getTimetable", "teachers", map[string]any{"options": options}, &periods)
	if err != nil {
		return nil, err
	}

	lessons := make([]model.Lesson, 0, len(periods))
	for _, p := range periods {
		l, convErr := p.toLesson(c.location)
		if convErr != nil {
			// A malformed period must not sink the whole fetch.
			appLog.Warn("untis: skipping malformed period", "err", convErr)
			continue
		}
		lessons = append(lessons, l)
	}
	model.SortByStart(lessons)
	return lessons, nil
}
