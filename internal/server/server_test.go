package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"duebell/internal/checker"
	"duebell/internal/feed"
	"duebell/internal/notify"
	"duebell/internal/reminder"
	"duebell/internal/store"
	"duebell/pkg/logx"
)

type stubFeed struct {
	assignments []feed.Assignment
	err         error
}

func (f *stubFeed) ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]feed.Assignment, error) {
	return f.assignments, f.err
}

type stubChannel struct{ sent int }

func (s *stubChannel) Name() string                                  { return "stub" }
func (s *stubChannel) Send(ctx context.Context, msg notify.Message) error { s.sent++; return nil }

func newTestRouter(t *testing.T, fd *stubFeed) (http.Handler, *stubChannel) {
	t.Helper()
	st, err := store.Open(store.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "state.json"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ch := &stubChannel{}
	engine := reminder.New(reminder.Config{}, logx.Nop())
	chk := checker.New(checker.Config{SaveRetries: 1}, engine, fd, st, ch, logx.Nop())
	return newRouter(Config{}, chk), ch
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h, _ := newTestRouter(t, &stubFeed{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusAndCheck(t *testing.T) {
	t.Parallel()
	fd := &stubFeed{assignments: []feed.Assignment{
		{ID: "a1", Name: "Essay", Course: "History", DueAt: time.Now().UTC().Add(5 * time.Hour)},
	}}
	h, ch := newTestRouter(t, fd)

	// No cycle has run yet.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reminders/status", nil))
	var status map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if _, ok := status["last_cycle"]; ok {
		t.Fatal("status reports a cycle before any ran")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reminders/check", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("check status = %d, body = %s", rec.Code, rec.Body)
	}
	// Due in 5 hours: nothing fires, nothing is sent.
	if ch.sent != 0 {
		t.Fatalf("sent = %d, want 0", ch.sent)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reminders/status", nil))
	status = nil
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if _, ok := status["last_cycle"]; !ok {
		t.Fatal("status missing last_cycle after a manual check")
	}
}

func TestCheckFeedFailure(t *testing.T) {
	t.Parallel()
	h, _ := newTestRouter(t, &stubFeed{err: feed.ErrUnavailable})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reminders/check", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestTestEndpointSends(t *testing.T) {
	t.Parallel()
	h, ch := newTestRouter(t, &stubFeed{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reminders/test", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ch.sent != 1 {
		t.Fatalf("sent = %d, want 1 synthetic reminder", ch.sent)
	}
}

func TestAssignments(t *testing.T) {
	t.Parallel()
	due := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	fd := &stubFeed{assignments: []feed.Assignment{
		{ID: "a1", Name: "Essay", Course: "History", DueAt: due, URL: "https://school.example.com/a1"},
	}}
	h, _ := newTestRouter(t, fd)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assignments", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Assignments []struct {
			ID     string `json:"id"`
			Course string `json:"course"`
		} `json:"assignments"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Assignments) != 1 || resp.Assignments[0].Course != "History" {
		t.Fatalf("assignments = %+v", resp.Assignments)
	}
}
