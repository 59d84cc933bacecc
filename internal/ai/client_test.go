package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeSSE(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	fl := w.(http.Flusher)
	for _, l := range lines {
		fmt.Fprintf(w, "data: %s\n\n", l)
		fl.Flush()
	}
}

func collect(ch <-chan StreamEvent) (tokens []string, usage *Usage, done *CallMetrics, errEv error) {
	for ev := range ch {
		switch ev.Kind {
		case EventToken:
			tokens = append(tokens, ev.Text)
		case EventUsage:
			usage = ev.Usage
		case EventDone:
			done = ev.Done
		case EventError:
			errEv = ev.Err
		}
	}
	return
}

func newTestClient(baseURL string) *Client {
	c := NewClient(ClientOptions{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		ConnectTimeout: 2 * time.Second,
		OverallTimeout: 5 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
	}, zap.NewNop())
	c.sleep = func(time.Duration) {} // no real backoff in tests
	return c
}

func TestStream_TokensAndReportedUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		writeSSE(w,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":2}}`,
			`[DONE]`,
		)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	tokens, usage, done, errEv := collect(c.Stream(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}))

	if errEv != nil {
		t.Fatalf("unexpected error: %v", errEv)
	}
	if len(tokens) != 2 || tokens[0] != "Hel" || tokens[1] != "lo" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	if usage == nil || !usage.Reported || usage.InputTokens != 12 || usage.OutputTokens != 2 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if done == nil || done.FinishReason != "stop" || done.Attempts != 1 || done.Retries != 0 {
		t.Fatalf("unexpected metrics: %+v", done)
	}
	if done.TTFT <= 0 || done.TTFT > done.Total {
		t.Fatalf("ttft %v out of range (total %v)", done.TTFT, done.Total)
	}
}

func TestStream_Retries500ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		writeSSE(w,
			`{"choices":[{"delta":{"content":"ok"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	tokens, _, done, errEv := collect(c.Stream(context.Background(), "m", nil))

	if errEv != nil {
		t.Fatalf("unexpected error: %v", errEv)
	}
	if len(tokens) != 1 || tokens[0] != "ok" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	if done.Attempts != 2 || done.Retries < 1 {
		t.Fatalf("expected a retried success, got %+v", done)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", n)
	}
}

func TestStream_401NeverRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, _, done, errEv := collect(c.Stream(context.Background(), "m", nil))

	if done != nil {
		t.Fatalf("expected terminal error, got done %+v", done)
	}
	pe, ok := errEv.(*ProviderError)
	if !ok {
		t.Fatalf("expected ProviderError, got %T %v", errEv, errEv)
	}
	if pe.Class != ClassClient || pe.Status != 401 || pe.Attempts != 1 {
		t.Fatalf("unexpected error: %+v", pe)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("401 must never trigger a second attempt, got %d calls", n)
	}
}

func TestStream_429MapsToRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, _, _, errEv := collect(c.Stream(context.Background(), "m", nil))

	pe, ok := errEv.(*ProviderError)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", errEv)
	}
	if pe.Class != ClassRateLimited || pe.UserMessage() != "rate-limited" {
		t.Fatalf("unexpected mapping: class=%v msg=%q", pe.Class, pe.UserMessage())
	}
}

func TestStream_RetriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, _, _, errEv := collect(c.Stream(context.Background(), "m", nil))

	pe, ok := errEv.(*ProviderError)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", errEv)
	}
	if pe.Attempts != 3 || pe.UserMessage() != "server error" {
		t.Fatalf("unexpected terminal error: %+v msg=%q", pe, pe.UserMessage())
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestStream_ConnectPhaseTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // hold headers back past the connect timeout
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientOptions{
		BaseURL:        srv.URL,
		ConnectTimeout: 50 * time.Millisecond,
		OverallTimeout: 5 * time.Second,
		MaxAttempts:    1,
		RetryBaseDelay: time.Millisecond,
	}, zap.NewNop())
	c.sleep = func(time.Duration) {}

	_, _, _, errEv := collect(c.Stream(context.Background(), "m", nil))
	pe, ok := errEv.(*ProviderError)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", errEv)
	}
	if pe.Class != ClassTimeout || pe.UserMessage() != "timeout" {
		t.Fatalf("expected timeout classification, got class=%v msg=%q", pe.Class, pe.UserMessage())
	}
}

func TestStream_CancelStopsGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestClient(srv.URL)
	ch := c.Stream(ctx, "m", nil)

	// read the first token, then hang up
	var sawToken bool
	for ev := range ch {
		if ev.Kind == EventToken {
			sawToken = true
			cancel()
		}
		if ev.Kind == EventDone {
			t.Fatalf("expected cancellation, got clean done")
		}
	}
	if !sawToken {
		t.Fatalf("expected at least one token before cancel")
	}
}
