package memory

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) FindByUser(ctx context.Context, userID uint64) (*ContextRecord, error) {
	var rec ContextRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindOrCreate returns the user's row, creating an empty one when absent.
// existed tells the caller whether a live fetch is mandatory. Creation is
// idempotent under concurrency: a lost race on the unique index falls back
// to reading the winner's row.
func (r *Repo) FindOrCreate(ctx context.Context, userID uint64) (rec *ContextRecord, existed bool, err error) {
	found, err := r.FindByUser(ctx, userID)
	if err == nil {
		return found, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	fresh := &ContextRecord{UserID: userID}
	if createErr := r.db.WithContext(ctx).Create(fresh).Error; createErr != nil {
		// lost the race: another request created the row first
		if winner, getErr := r.FindByUser(ctx, userID); getErr == nil {
			return winner, true, nil
		}
		return nil, false, createErr
	}
	return fresh, false, nil
}

// UpsertBlock writes a fresh context block with a bumped version counter.
// Last write wins: the cache is an optimization, the live service is the
// source of truth.
func (r *Repo) UpsertBlock(ctx context.Context, userID uint64, block, params, sessionID string) error {
	rec, _, err := r.FindOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&ContextRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"context_block":   block,
			"version":         gorm.Expr("version + 1"),
			"params":          params,
			"last_session_id": sessionID,
		}).Error
}
