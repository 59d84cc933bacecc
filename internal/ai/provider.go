package ai

import (
	"context"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token counts for one completion. Reported is true when the
// numbers came from the provider itself; estimated counts never set it.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	Reported          bool
}

type EventKind string

const (
	EventToken EventKind = "token"
	EventUsage EventKind = "usage"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// StreamEvent is one element of a completion stream. Exactly one of the
// payload fields is set, selected by Kind. A stream is a sequence of token
// events, an optional usage event, then a single done or error event.
type StreamEvent struct {
	Kind  EventKind
	Text  string
	Usage *Usage
	Done  *CallMetrics
	Err   error
}

// CallMetrics summarizes one provider call after it terminates.
type CallMetrics struct {
	FinishReason string
	TTFT         time.Duration
	Total        time.Duration
	Attempts     int
	Retries      int
}

// Streamer streams one completion. The returned channel is closed after the
// terminal done or error event. Cancelling ctx stops generation promptly.
type Streamer interface {
	Stream(ctx context.Context, model string, messages []Message) <-chan StreamEvent
}
