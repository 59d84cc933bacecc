package pricing

import "time"

// Record holds the billable rates for one model, USD per million tokens.
type Record struct {
	ID                 uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	Model              string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"model"`
	InputPerMTok       float64   `gorm:"not null" json:"input_per_mtok"`
	OutputPerMTok      float64   `gorm:"not null" json:"output_per_mtok"`
	CachedInputPerMTok float64   `gorm:"not null" json:"cached_input_per_mtok"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Record) TableName() string { return "model_pricing" }
