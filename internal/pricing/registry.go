package pricing

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Registry resolves a requested model to a validated, billable one. Rates
// are read through the TTL cache; unknown models fall back to a small table
// of pattern-matched defaults rather than failing.
type Registry struct {
	repo         *Repo
	cache        *Cache
	defaultModel string
	logger       *zap.Logger
}

func NewRegistry(repo *Repo, ttl time.Duration, defaultModel string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		repo:         repo,
		cache:        NewCache(ttl),
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// Cache exposes the underlying cache for the invalidation endpoint and tests.
func (r *Registry) Cache() *Cache { return r.cache }

// Resolve validates the requested model against the pricing table and
// returns the model that will actually be billed. An empty or unpriced
// request falls back to the configured default; fellBack reports that.
func (r *Registry) Resolve(ctx context.Context, requested string) (model string, rec Record, fellBack bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return r.defaultModel, r.Rates(ctx, r.defaultModel), true
	}
	if cached, ok := r.cache.Get(requested); ok {
		return requested, cached, false
	}
	if r.repo != nil {
		dbRec, err := r.repo.GetByModel(ctx, requested)
		if err == nil {
			r.cache.Put(*dbRec)
			return requested, *dbRec, false
		}
		if err != gorm.ErrRecordNotFound {
			r.logger.Warn("pricing lookup failed", zap.String("model", requested), zap.Error(err))
		}
	}
	// Unknown model: still honor the request, price it by pattern.
	return requested, defaultRates(requested), false
}

// Rates returns the rates for a model without changing which model is used.
func (r *Registry) Rates(ctx context.Context, model string) Record {
	if cached, ok := r.cache.Get(model); ok {
		return cached
	}
	if r.repo != nil {
		rec, err := r.repo.GetByModel(ctx, model)
		if err == nil {
			r.cache.Put(*rec)
			return *rec
		}
		if err != gorm.ErrRecordNotFound {
			r.logger.Warn("pricing lookup failed", zap.String("model", model), zap.Error(err))
		}
	}
	return defaultRates(model)
}

// defaultRates pattern-matches a model name onto conservative list prices,
// USD per million tokens. Never a hard failure.
func defaultRates(model string) Record {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt-4o-mini"), strings.Contains(m, "mini"):
		return Record{Model: model, InputPerMTok: 0.15, OutputPerMTok: 0.60, CachedInputPerMTok: 0.075}
	case strings.Contains(m, "gpt-4"):
		return Record{Model: model, InputPerMTok: 2.50, OutputPerMTok: 10.00, CachedInputPerMTok: 1.25}
	case strings.Contains(m, "claude"):
		return Record{Model: model, InputPerMTok: 3.00, OutputPerMTok: 15.00, CachedInputPerMTok: 0.30}
	case strings.Contains(m, "llama"), strings.Contains(m, "mistral"):
		return Record{Model: model, InputPerMTok: 0.10, OutputPerMTok: 0.10, CachedInputPerMTok: 0.10}
	default:
		return Record{Model: model, InputPerMTok: 1.00, OutputPerMTok: 3.00, CachedInputPerMTok: 0.50}
	}
}
