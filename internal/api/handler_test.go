package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/agent"
	"github.com/nvara/adscout/internal/llm"
	"github.com/nvara/adscout/internal/store"
	"github.com/nvara/adscout/internal/tools"
)

type fakeReader struct {
	session *store.Session
	entries []*store.LogEntry
	report  *store.Report
}

func (f *fakeReader) GetSession(ctx context.Context, id string) (*store.Session, error) {
	if f.session == nil || f.session.ID != id {
		return nil, store.ErrSessionNotFound
	}
	return f.session, nil
}

func (f *fakeReader) ListLogEntries(ctx context.Context, sessionID string) ([]*store.LogEntry, error) {
	return f.entries, nil
}

func (f *fakeReader) ListMessages(ctx context.Context, sessionID string) ([]*store.ChatMessage, error) {
	return nil, nil
}

func (f *fakeReader) GetReport(ctx context.Context, id string) (*store.Report, error) {
	if f.report == nil || f.report.ID != id {
		return nil, store.ErrReportNotFound
	}
	return f.report, nil
}

// nopRecorder satisfies agent.Recorder with in-memory no-ops.
type nopRecorder struct{}

func (nopRecorder) UpsertSession(ctx context.Context, sess *store.Session) error { return nil }
func (nopRecorder) UpdateSessionProgress(ctx context.Context, id, step string, progress int) error {
	return nil
}
func (nopRecorder) SetSessionMetadata(ctx context.Context, id string, meta map[string]interface{}) error {
	return nil
}
func (nopRecorder) FinalizeSession(ctx context.Context, id, status string, progress int, errMsg string) error {
	return nil
}
func (nopRecorder) InsertLogEntry(ctx context.Context, e *store.LogEntry) error { return nil }
func (nopRecorder) CreateMessage(ctx context.Context, m *store.ChatMessage) (string, error) {
	return "m1", nil
}
func (nopRecorder) UpdateMessageContent(ctx context.Context, id, content string) error { return nil }
func (nopRecorder) FinalizeMessage(ctx context.Context, id, content string) error      { return nil }

// oneShotClient answers every turn with the same long text and no tools, so
// a run completes after a single iteration.
type oneShotClient struct{ text string }

func (c *oneShotClient) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan *llm.StreamEvent, error) {
	ch := make(chan *llm.StreamEvent, 2)
	ch <- &llm.StreamEvent{Token: c.text}
	ch <- &llm.StreamEvent{Done: true}
	close(ch)
	return ch, nil
}

// fakeSubscriber replays a fixed set of log entries and then ends the feed.
type fakeSubscriber struct {
	entries []*store.LogEntry
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, sessionID string) <-chan *store.LogEntry {
	ch := make(chan *store.LogEntry, len(f.entries))
	for _, e := range f.entries {
		ch <- e
	}
	close(ch)
	return ch
}

func testHandler(t *testing.T, reader Reader, client llm.Client) *Handler {
	t.Helper()
	return testHandlerWithFeed(t, reader, client, nil)
}

func testHandlerWithFeed(t *testing.T, reader Reader, client llm.Client, sub Subscriber) *Handler {
	t.Helper()
	runner := agent.NewRunner(client, nopRecorder{}, nil, agent.Options{MaxIterations: 5}, time.Minute, zap.NewNop())
	factory := func(sessionID, brandName string) *tools.Registry {
		return tools.NewRegistry(zap.NewNop())
	}
	return NewHandler(runner, reader, sub, factory, zap.NewNop())
}

func TestHealthCheck(t *testing.T) {
	h := testHandler(t, &fakeReader{}, &oneShotClient{})
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestGetSession(t *testing.T) {
	reader := &fakeReader{session: &store.Session{ID: "s1", Status: store.SessionCompleted}}
	h := testHandler(t, reader, &oneShotClient{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), store.SessionCompleted) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d for missing session", rec.Code)
	}
}

func TestSessionLogEmptyIsArray(t *testing.T) {
	h := testHandler(t, &fakeReader{}, &oneShotClient{})
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/log", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestGetReportNotFound(t *testing.T) {
	h := testHandler(t, &fakeReader{}, &oneShotClient{})
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/r1", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStartResearchRequiresPrompt(t *testing.T) {
	h := testHandler(t, &fakeReader{}, &oneShotClient{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(`{"user_id":"u1"}`))
	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestFollowSessionLogStreamsEntries(t *testing.T) {
	sub := &fakeSubscriber{entries: []*store.LogEntry{
		{SessionID: "s1", StepName: "reasoning_1", Status: store.StepStarted},
		{SessionID: "s1", StepName: "reasoning_1", Status: store.StepCompleted},
	}}
	h := testHandlerWithFeed(t, &fakeReader{}, &oneShotClient{}, sub)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/feed", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"reasoning_1"`) {
		t.Fatalf("missing log entry frame:\n%s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("feed not terminated with DONE:\n%s", body)
	}
}

func TestFollowSessionLogWithoutFeedIs503(t *testing.T) {
	h := testHandler(t, &fakeReader{}, &oneShotClient{})
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/feed", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStartResearchStreamsUntilDone(t *testing.T) {
	answer := strings.Repeat("Competitors lead with problem-solution hooks in the first two seconds. ", 6)
	h := testHandler(t, &fakeReader{}, &oneShotClient{text: answer})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"user_id":"u1","prompt":"audit Glow competitors","brand_name":"Glow"}`))
	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"session_started"`) {
		t.Fatalf("missing session_started frame:\n%s", body)
	}
	if !strings.Contains(body, `"session_completed"`) {
		t.Fatalf("missing session_completed frame:\n%s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream not terminated with DONE:\n%s", body)
	}
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			t.Fatalf("non-SSE line %q", line)
		}
	}
}
