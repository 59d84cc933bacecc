package memory

import "time"

// Mode selects the context retrieval strategy.
type Mode string

const (
	ModeBasic      Mode = "basic"
	ModeSummarized Mode = "summarized"
	ModeSimilarity Mode = "similarity"
	ModeGraph      Mode = "graph"
)

// Valid reports whether m is one of the fixed modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeBasic, ModeSummarized, ModeSimilarity, ModeGraph:
		return true
	}
	return false
}

// QueryDriven modes are computed fresh from the live service per message
// and are never cached.
func (m Mode) QueryDriven() bool {
	return m == ModeSimilarity || m == ModeGraph
}

// ContextRecord is the per-user cached context block. At most one row per
// user; created lazily the first time memory is requested. There is no
// expiry: the row is refreshed opportunistically, never time-evicted.
type ContextRecord struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID        uint64    `gorm:"uniqueIndex;not null" json:"-"`
	ContextBlock  string    `gorm:"type:text;not null" json:"context_block"`
	Version       uint64    `gorm:"not null;default:0" json:"version"`
	Params        string    `gorm:"type:varchar(255)" json:"params"`
	LastSessionID string    `gorm:"type:varchar(26)" json:"last_session_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ContextRecord) TableName() string { return "memory_contexts" }
