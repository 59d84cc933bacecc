package handlers

import (
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/chat-stream/internal/chat"
	"github.com/suPer8Hu/chat-stream/internal/pricing"
)

type Handler struct {
	ChatSvc   *chat.Service
	Pricing   *pricing.Registry
	Heartbeat time.Duration
	Logger    *zap.Logger
}

func NewHandler(chatSvc *chat.Service, pr *pricing.Registry, heartbeat time.Duration, logger *zap.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ChatSvc:   chatSvc,
		Pricing:   pr,
		Heartbeat: heartbeat,
		Logger:    logger,
	}
}
