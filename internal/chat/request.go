package chat

import (
	"errors"
	"strings"

	"github.com/suPer8Hu/chat-stream/internal/memory"
)

const (
	maxMessageChars = 32 * 1024
	maxTopK         = 20
)

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message too long")
	ErrMissingSession = errors.New("session_id is required")
	ErrInvalidMode    = errors.New("invalid context mode")
)

// Request is one inbound chat call. Immutable once validated.
type Request struct {
	UserID            uint64
	RequestID         string
	SessionID         string
	Message           string
	Model             string
	SystemPrompt      string
	UseMemory         bool
	ReturnMemory      bool
	TestingMode       bool
	ContextMode       memory.Mode
	PastMessagesCount int
	TopK              int

	// AssistantOutput bypasses the provider entirely and streams this text
	// instead. Deterministic replay for prompt iteration and tests.
	AssistantOutput string
}

// Validate normalizes defaults and rejects malformed requests before the
// stream opens.
func (r *Request) Validate(pastMax int) error {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > maxMessageChars {
		return ErrMessageTooLong
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrMissingSession
	}
	if r.ContextMode == "" {
		r.ContextMode = memory.ModeBasic
	}
	if !r.ContextMode.Valid() {
		return ErrInvalidMode
	}
	if pastMax <= 0 {
		pastMax = 50
	}
	if r.PastMessagesCount < 0 {
		r.PastMessagesCount = 0
	}
	if r.PastMessagesCount > pastMax {
		r.PastMessagesCount = pastMax
	}
	// 0 means "use the configured default"
	if r.TopK < 0 {
		r.TopK = 0
	}
	if r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	return nil
}
