// Package sse is the push-channel transport: typed events, comment
// heartbeats, idempotent close, and cancellation propagation.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var ErrStreamingUnsupported = errors.New("sse: response writer does not support flushing")

// Stream is one long-lived SSE channel. Init must be called before any
// upstream work so the client connection is established first; everything
// after that is Send/Comment/Terminate, then Close. Close is idempotent and
// is the only place the heartbeat stops. Peer disconnect or a write error
// cancels the context returned by New, which is how downstream work (the
// provider call) learns to stop.
type Stream struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	heartbeat time.Duration
	cancel    context.CancelFunc

	mu     sync.Mutex
	closed bool

	stopHB    chan struct{}
	closeOnce sync.Once
}

func New(w http.ResponseWriter, parent context.Context, heartbeat time.Duration) (*Stream, context.Context, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, nil, ErrStreamingUnsupported
	}
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	return &Stream{
		w:         w,
		flusher:   flusher,
		heartbeat: heartbeat,
		cancel:    cancel,
		stopHB:    make(chan struct{}),
	}, ctx, nil
}

// Init writes the protocol headers, disables intermediary buffering, and
// flushes immediately, then starts the heartbeat. Nothing slow may run
// before this.
func (s *Stream) Init() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // helpful if behind nginx
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()

	go s.heartbeatLoop()
}

func (s *Stream) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Comment(fmt.Sprintf("ping %d", time.Now().Unix()))
		case <-s.stopHB:
			return
		}
	}
}

// Send writes one named data event. No-op once closed. A write failure
// closes the stream, cancelling downstream work.
func (s *Stream) Send(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(`{"message":"json marshal failed"}`)
		event = "error"
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	_, werr := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b)
	if werr == nil {
		s.flusher.Flush()
	}
	s.mu.Unlock()

	if werr != nil {
		s.Close()
	}
}

// Comment writes a transport-level comment line. Never dispatched as a data
// event by clients; exists purely to defeat idle-connection timeouts.
func (s *Stream) Comment(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	_, werr := fmt.Fprintf(s.w, ": %s\n\n", text)
	if werr == nil {
		s.flusher.Flush()
	}
	s.mu.Unlock()

	if werr != nil {
		s.Close()
	}
}

// Terminate writes the literal end-of-stream marker for clients that do not
// rely on transport close.
func (s *Stream) Terminate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
	s.mu.Unlock()
}

// Close ends the transport and cancels the heartbeat exactly once,
// regardless of which of peer disconnect, completion, or error got here
// first.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopHB)
		s.cancel()
	})
}
