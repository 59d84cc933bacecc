package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleMemory    = "memory"
)

// Message is one durable transcript row: a user turn, an assistant turn, or
// a snapshot of the memory context that accompanied the turn. Assistant rows
// carry the exact prompt sent and the model actually used, never the
// requested one if a fallback occurred.
type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_user_session_id,priority:2;index:uniq_chat_msg_idempo,unique,priority:2" json:"session_id"`
	UserID         uint64    `gorm:"not null;index:idx_chat_msg_user_session_id,priority:1;index:uniq_chat_msg_idempo,unique,priority:1" json:"-"`
	Role           string    `gorm:"type:varchar(16);index;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Model          string    `gorm:"type:varchar(128)" json:"model,omitempty"`
	PromptSnapshot string    `gorm:"type:text" json:"-"`
	TokensIn       int       `json:"tokens_in,omitempty"`
	TokensOut      int       `json:"tokens_out,omitempty"`
	CostUSD        float64   `json:"cost_usd,omitempty"`
	Estimated      bool      `json:"estimated,omitempty"`
	TTFTMs         int64     `json:"ttft_ms,omitempty"`
	DurationMs     int64     `json:"duration_ms,omitempty"`
	MemoryMs       int64     `json:"memory_ms,omitempty"`
	IdempotencyKey *string   `gorm:"type:varchar(128);index:uniq_chat_msg_idempo,unique,priority:3" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Telemetry event kinds. Append-only, recorded in causal order per request.
const (
	KindMessageSent  = "message_sent"
	KindProviderCall = "provider_call"
	KindMemorySearch = "memory_search"
	KindMemoryUpsert = "memory_upsert"
	KindError        = "error"
)

type TelemetryEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind      string    `gorm:"type:varchar(32);index;not null" json:"kind"`
	UserID    uint64    `gorm:"index" json:"user_id"`
	SessionID string    `gorm:"type:varchar(26);index" json:"session_id"`
	RequestID string    `gorm:"type:varchar(64)" json:"request_id"`
	Payload   string    `gorm:"type:text" json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func (TelemetryEvent) TableName() string { return "telemetry_events" }

// UsageRollup is the per-day, per-user, per-model aggregate maintained by
// the telemetry export worker.
type UsageRollup struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	Day       string    `gorm:"type:varchar(10);not null;index:uniq_rollup,unique,priority:1" json:"day"`
	UserID    uint64    `gorm:"not null;index:uniq_rollup,unique,priority:2" json:"user_id"`
	Model     string    `gorm:"type:varchar(128);not null;index:uniq_rollup,unique,priority:3" json:"model"`
	Requests  int64     `gorm:"not null" json:"requests"`
	TokensIn  int64     `gorm:"not null" json:"tokens_in"`
	TokensOut int64     `gorm:"not null" json:"tokens_out"`
	CostUSD   float64   `gorm:"not null" json:"cost_usd"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UsageRollup) TableName() string { return "usage_rollups" }
