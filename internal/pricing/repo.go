package pricing

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetByModel(ctx context.Context, model string) (*Record, error) {
	var rec Record
	if err := r.db.WithContext(ctx).
		Where("model = ?", model).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert writes rates keyed by model name; the admin surface that edits
// rates lives elsewhere, this exists for seeding and tests.
func (r *Repo) Upsert(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{"input_per_m_tok", "output_per_m_tok", "cached_input_per_m_tok", "updated_at"}),
		}).
		Create(rec).Error
}

func (r *Repo) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := r.db.WithContext(ctx).Order("model ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
