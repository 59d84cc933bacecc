package chat

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// EventPublisher exports telemetry events to an external consumer (the
// RabbitMQ worker). Optional; nil keeps events DB-only.
type EventPublisher interface {
	PublishEvent(ctx context.Context, kind string, payload []byte) error
}

// Recorder writes telemetry events. Best-effort on every path: a failed
// insert or publish is logged, never propagated.
type Recorder struct {
	repo   *Repo
	pub    EventPublisher
	logger *zap.Logger
}

func NewRecorder(repo *Repo, pub EventPublisher, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, pub: pub, logger: logger}
}

// ExportedEvent is the wire shape published to the export queue.
type ExportedEvent struct {
	Kind      string          `json:"kind"`
	UserID    uint64          `json:"user_id"`
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

func (r *Recorder) Record(ctx context.Context, kind string, userID uint64, sessionID, requestID string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("telemetry payload marshal failed", zap.String("kind", kind), zap.Error(err))
		return
	}

	ev := &TelemetryEvent{
		Kind:      kind,
		UserID:    userID,
		SessionID: sessionID,
		RequestID: requestID,
		Payload:   string(raw),
	}
	if err := r.repo.InsertTelemetry(ctx, ev); err != nil {
		r.logger.Warn("telemetry insert failed", zap.String("kind", kind), zap.Error(err))
	}

	if r.pub == nil {
		return
	}
	exported, err := json.Marshal(ExportedEvent{
		Kind:      kind,
		UserID:    userID,
		SessionID: sessionID,
		RequestID: requestID,
		Payload:   raw,
	})
	if err != nil {
		return
	}
	if err := r.pub.PublishEvent(ctx, kind, exported); err != nil {
		r.logger.Warn("telemetry publish failed", zap.String("kind", kind), zap.Error(err))
	}
}
