// Package remotetest provides an in-memory remote for exercising the sync
// engine over real HTTP.
package remotetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/types"
)

// TestingT is the subset of testing.TB used by the server
type TestingT interface {
	Helper()
	Fatalf(format string, args ...any)
	Cleanup(func())
}

// PushHook can override the reply to a push. Returning nil falls through
// to normal handling.
type PushHook func(req remote.PushRequest) *remote.PushResponse

// Server mimics a spreadsheet backed remote: rows are kept in insertion
// order, CREATE appends without checking for duplicates, and UPDATE or
// DELETE of an unknown id answers "ID not found". Attendance rows keep
// only the string encoded students_json.
type Server struct {
	t   TestingT
	srv *httptest.Server

	mu      sync.Mutex
	rows    map[types.Collection][]map[string]any
	pushes  []remote.PushRequest
	pulls   int
	offline bool
	hook    PushHook
	hold    chan struct{}
	held    chan struct{}
}

// NewServer starts a server that is closed when the test ends
func NewServer(t TestingT) *Server {
	t.Helper()
	s := &Server{
		t:    t,
		rows: make(map[types.Collection][]map[string]any),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the endpoint for both pull and push
func (s *Server) URL() string {
	return s.srv.URL
}

// Adapter returns an HTTP adapter pointed at the server
func (s *Server) Adapter() *remote.HTTPAdapter {
	s.t.Helper()
	a, err := remote.NewHTTPAdapter(remote.Config{URL: s.URL()})
	if err != nil {
		s.t.Fatalf("failed to create adapter: %v", err)
	}
	return a
}

// SetOffline makes every request fail at the transport level
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// SetPushHook installs fn to intercept pushes
func (s *Server) SetPushHook(fn PushHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// HoldPushes blocks every push until release is called. entered receives
// once per push that reaches the hold.
func (s *Server) HoldPushes() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold := make(chan struct{})
	held := make(chan struct{}, 64)
	s.hold, s.held = hold, held

	var once sync.Once
	return held, func() {
		once.Do(func() {
			s.mu.Lock()
			s.hold, s.held = nil, nil
			s.mu.Unlock()
			close(hold)
		})
	}
}

// Seed appends rows to a collection as they would appear on the remote
func (s *Server) Seed(c types.Collection, records ...any) {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		row, err := toRow(rec)
		if err != nil {
			s.t.Fatalf("failed to seed %s: %v", c, err)
		}
		s.rows[c] = append(s.rows[c], normalizeRow(c, row))
	}
}

// Records returns the raw rows of a collection in remote order
func (s *Server) Records(c types.Collection) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawLocked(c)
}

// Pushes returns every push received, including rejected ones
func (s *Server) Pushes() []remote.PushRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.PushRequest(nil), s.pushes...)
}

// Pulls returns the number of pull requests served
func (s *Server) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if offline {
		dropConnection(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handlePull(w)
	case http.MethodPost:
		s.handlePush(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePull(w http.ResponseWriter) {
	s.mu.Lock()
	s.pulls++
	snap := types.Snapshot{
		Users:      s.rawLocked(types.CollectionUsers),
		Classes:    s.rawLocked(types.CollectionClasses),
		Students:   s.rawLocked(types.CollectionStudents),
		Journals:   s.rawLocked(types.CollectionJournals),
		Attendance: s.rawLocked(types.CollectionAttendance),
		Settings:   s.rawLocked(types.CollectionSettings),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req remote.PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, remote.PushResponse{Status: remote.StatusError, Message: "invalid body"})
		return
	}

	s.mu.Lock()
	s.pushes = append(s.pushes, req)
	hook, hold, held := s.hook, s.hold, s.held
	s.mu.Unlock()

	if hold != nil {
		held <- struct{}{}
		<-hold
	}
	if hook != nil {
		if resp := hook(req); resp != nil {
			writeResponse(w, *resp)
			return
		}
	}

	writeResponse(w, s.apply(req))
}

func (s *Server) apply(req remote.PushRequest) remote.PushResponse {
	row := map[string]any{}
	if err := json.Unmarshal(req.Data, &row); err != nil {
		return remote.PushResponse{Status: remote.StatusError, Message: "invalid data"}
	}
	row = normalizeRow(req.Collection, row)
	id := rowID(row)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[req.Collection]

	switch req.Action {
	case types.ActionCreate:
		s.rows[req.Collection] = append(rows, row)
	case types.ActionUpdate, types.ActionDelete:
		i := indexOf(rows, id)
		if i < 0 {
			return remote.PushResponse{Status: remote.StatusError, Message: remote.NotFoundMessage}
		}
		if req.Action == types.ActionUpdate {
			rows[i] = row
		} else {
			s.rows[req.Collection] = append(rows[:i], rows[i+1:]...)
		}
	default:
		return remote.PushResponse{Status: remote.StatusError, Message: "unknown action"}
	}
	return remote.PushResponse{Status: remote.StatusSuccess}
}

func (s *Server) rawLocked(c types.Collection) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(s.rows[c]))
	for _, row := range s.rows[c] {
		data, err := json.Marshal(row)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

func toRow(rec any) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	row := map[string]any{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// normalizeRow stores attendance the way a sheet does, with the student
// list only as a JSON string
func normalizeRow(c types.Collection, row map[string]any) map[string]any {
	if c != types.CollectionAttendance {
		return row
	}
	if students, ok := row["students"]; ok {
		if _, has := row["students_json"]; !has {
			data, _ := json.Marshal(students)
			row["students_json"] = string(data)
		}
		delete(row, "students")
	}
	return row
}

func rowID(row map[string]any) string {
	if id, ok := row["id"]; ok && id != nil {
		return fmt.Sprint(id)
	}
	return ""
}

func indexOf(rows []map[string]any, id string) int {
	for i, row := range rows {
		if rowID(row) == id {
			return i
		}
	}
	return -1
}

func writeResponse(w http.ResponseWriter, resp remote.PushResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
