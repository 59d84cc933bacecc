package chat

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

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// InsertMessageIdempotent tolerates a duplicate (user, session, key) insert:
// persistence is at-least-once and replays must not create second rows.
func (r *Repo) InsertMessageIdempotent(ctx context.Context, m *Message) error {
	if m.IdempotencyKey == nil || *m.IdempotencyKey == "" {
		return r.InsertMessage(ctx, m)
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error
}

// ListMessages returns transcript rows in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent user/assistant rows,
// newest -> oldest. Memory snapshot rows are excluded from prompt history.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, userID uint64, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ? AND role IN ?", userID, sessionID, []string{RoleUser, RoleAssistant}).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) InsertTelemetry(ctx context.Context, ev *TelemetryEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

// AddToRollup accumulates one priced call into the day/user/model aggregate.
func (r *Repo) AddToRollup(ctx context.Context, day string, userID uint64, model string, tokensIn, tokensOut int64, costUSD float64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "day"}, {Name: "user_id"}, {Name: "model"}},
			DoUpdates: clause.Assignments(map[string]any{
				"requests":   gorm.Expr("requests + 1"),
				"tokens_in":  gorm.Expr("tokens_in + ?", tokensIn),
				"tokens_out": gorm.Expr("tokens_out + ?", tokensOut),
				"cost_usd":   gorm.Expr("cost_usd + ?", costUSD),
			}),
		}).
		Create(&UsageRollup{
			Day:       day,
			UserID:    userID,
			Model:     model,
			Requests:  1,
			TokensIn:  tokensIn,
			TokensOut: tokensOut,
			CostUSD:   costUSD,
		}).Error
}
