package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/chat-stream/internal/chat"
	"github.com/suPer8Hu/chat-stream/internal/common"
	"github.com/suPer8Hu/chat-stream/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-stream/internal/httpapi/sse"
	"github.com/suPer8Hu/chat-stream/internal/memory"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func requestIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

type streamChatReq struct {
	Message           string `json:"message" binding:"required"`
	SessionID         string `json:"session_id" binding:"required"`
	Model             string `json:"model"`
	SystemPrompt      string `json:"system_prompt"`
	UseMemory         bool   `json:"use_memory"`
	ReturnMemory      bool   `json:"return_memory"`
	TestingMode       bool   `json:"testing_mode"`
	ContextMode       string `json:"context_mode"`
	PastMessagesCount int    `json:"past_messages_count"`
	TopK              int    `json:"top_k"`
	AssistantOutput   string `json:"assistant_output"`
}

// StreamChat turns one chat request into an SSE stream. Validation failures
// reject with the JSON envelope before the stream opens; anything after the
// headers are out is delivered as an in-band error event.
func (h *Handler) StreamChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var body streamChatReq
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	req := chat.Request{
		UserID:            uid,
		RequestID:         requestIDFromContext(c),
		SessionID:         body.SessionID,
		Message:           body.Message,
		Model:             body.Model,
		SystemPrompt:      body.SystemPrompt,
		UseMemory:         body.UseMemory,
		ReturnMemory:      body.ReturnMemory,
		TestingMode:       body.TestingMode,
		ContextMode:       memory.Mode(body.ContextMode),
		PastMessagesCount: body.PastMessagesCount,
		TopK:              body.TopK,
		AssistantOutput:   body.AssistantOutput,
	}
	if err := req.Validate(h.ChatSvc.PastMax()); err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		return
	}

	stream, ctx, err := sse.New(c.Writer, c.Request.Context(), h.Heartbeat)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming not supported")
		return
	}
	// Channel first, upstream work after: memory lookup and prompt assembly
	// must never block opening the connection.
	stream.Init()
	defer stream.Close()

	events := h.ChatSvc.StreamReply(ctx, req)
	for ev := range events {
		switch ev.Kind {
		case chat.EventToken:
			stream.Send("token", gin.H{"text": ev.Token})
		case chat.EventUsage:
			stream.Send("usage", ev.Usage)
		case chat.EventMemory:
			stream.Send("memory", ev.Memory)
		case chat.EventDone:
			stream.Send("done", ev.Done)
		case chat.EventError:
			stream.Send("error", ev.Err)
		}
	}
	stream.Terminate()
}

// NewChatSession mints a session id. Sessions carry no server-side state of
// their own; the id just namespaces the transcript.
func (h *Handler) NewChatSession(c *gin.Context) {
	if _, okk := userIDFromContext(c); !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}
	common.OK(c, gin.H{"session_id": id})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.Repo().ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		h.Logger.Warn("list messages failed", zap.String("session_id", sessionID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

// InvalidatePricing is the explicit cache invalidation hook called after
// rates are edited. Empty model clears everything.
func (h *Handler) InvalidatePricing(c *gin.Context) {
	var body struct {
		Model string `json:"model"`
	}
	_ = c.ShouldBindJSON(&body) // allow empty {}

	h.Pricing.Cache().Invalidate(body.Model)
	common.OK(c, gin.H{"invalidated": true})
}
