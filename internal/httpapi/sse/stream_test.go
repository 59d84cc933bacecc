package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestStream(t *testing.T, heartbeat time.Duration) (*Stream, context.Context, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	s, ctx, err := New(rec, context.Background(), heartbeat)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	return s, ctx, rec
}

func TestInit_WritesProtocolHeaders(t *testing.T) {
	s, _, rec := newTestStream(t, time.Hour)
	s.Init()
	defer s.Close()

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("cache control %q", got)
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Fatalf("buffering header %q", got)
	}
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	if !rec.Flushed {
		t.Fatalf("headers must be flushed before any upstream work")
	}
}

func TestSend_FramesNamedEvent(t *testing.T) {
	s, _, rec := newTestStream(t, time.Hour)
	s.Init()
	defer s.Close()

	s.Send("token", map[string]string{"text": "hello"})

	body := rec.Body.String()
	want := "event: token\ndata: {\"text\":\"hello\"}\n\n"
	if !strings.Contains(body, want) {
		t.Fatalf("missing frame %q in %q", want, body)
	}
}

func TestComment_IsNotAnEvent(t *testing.T) {
	s, _, rec := newTestStream(t, time.Hour)
	s.Init()
	defer s.Close()

	s.Comment("ping 1748000000")

	body := rec.Body.String()
	if !strings.Contains(body, ": ping 1748000000\n\n") {
		t.Fatalf("missing comment frame in %q", body)
	}
	if strings.Contains(body, "event:") {
		t.Fatalf("comments must not be dispatched as events: %q", body)
	}
}

func TestTerminate_WritesDoneMarker(t *testing.T) {
	s, _, rec := newTestStream(t, time.Hour)
	s.Init()
	defer s.Close()

	s.Terminate()
	if !strings.Contains(rec.Body.String(), "data: [DONE]\n\n") {
		t.Fatalf("missing terminal marker in %q", rec.Body.String())
	}
}

func TestClose_IdempotentAndCancels(t *testing.T) {
	s, ctx, _ := newTestStream(t, time.Hour)
	s.Init()

	s.Close()
	s.Close() // must not panic on a second close

	select {
	case <-ctx.Done():
	default:
		t.Fatalf("close must cancel the downstream context")
	}
}

func TestSend_NoOpAfterClose(t *testing.T) {
	s, _, rec := newTestStream(t, time.Hour)
	s.Init()
	s.Close()

	before := rec.Body.Len()
	s.Send("token", map[string]string{"text": "late"})
	s.Comment("late ping")
	s.Terminate()

	if rec.Body.Len() != before {
		t.Fatalf("writes after close must be dropped, body grew: %q", rec.Body.String())
	}
}

func TestHeartbeat_EmitsComments(t *testing.T) {
	s, _, rec := newTestStream(t, 5*time.Millisecond)
	s.Init()

	time.Sleep(40 * time.Millisecond)
	s.Close()

	if !strings.Contains(rec.Body.String(), ": ping ") {
		t.Fatalf("expected heartbeat comments, got %q", rec.Body.String())
	}
}

func TestNew_RejectsNonFlushableWriter(t *testing.T) {
	if _, _, err := New(nonFlusher{}, context.Background(), time.Second); err != ErrStreamingUnsupported {
		t.Fatalf("expected ErrStreamingUnsupported, got %v", err)
	}
}

type nonFlusher struct{}

func (nonFlusher) Header() http.Header { return http.Header{} }
func (nonFlusher) Write(b []byte) (int, error) { return len(b), nil }
func (nonFlusher) WriteHeader(statusCode int) {}
