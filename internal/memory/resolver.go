package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BlockCache is an optional fast layer in front of the durable context row.
// Implemented by redisstore; nil disables it.
type BlockCache interface {
	GetBlock(ctx context.Context, userID uint64) (string, bool, error)
	SetBlock(ctx context.Context, userID uint64, block string) error
}

// Resolution is the outcome of one context lookup.
type Resolution struct {
	Block     string
	Results   []Result
	FromCache bool
	CacheMiss bool // a live fetch happened and the row should be persisted post-stream
	Elapsed   time.Duration
}

// Resolver obtains a context block for a request. Query-driven modes always
// hit the live service; basic/summarized prefer the cached row. Every
// failure here is non-fatal: the chat continues without memory.
type Resolver struct {
	client Client
	repo   *Repo
	cache  BlockCache
	topK   int
	logger *zap.Logger
}

func NewResolver(client Client, repo *Repo, cache BlockCache, topK int, logger *zap.Logger) *Resolver {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: client, repo: repo, cache: cache, topK: topK, logger: logger}
}

// Resolve obtains the context for one request. topK bounds query-driven
// searches; 0 falls back to the configured default.
func (r *Resolver) Resolve(ctx context.Context, userID uint64, sessionID, query string, mode Mode, topK int) Resolution {
	start := time.Now()
	res := r.resolve(ctx, userID, query, mode, topK)
	res.Elapsed = time.Since(start)
	return res
}

func (r *Resolver) resolve(ctx context.Context, userID uint64, query string, mode Mode, topK int) Resolution {
	if topK <= 0 {
		topK = r.topK
	}
	if mode.QueryDriven() {
		results, err := r.client.Search(ctx, userID, query, mode, topK)
		if err != nil {
			r.logger.Warn("memory search failed, continuing without context",
				zap.Uint64("user_id", userID), zap.String("mode", string(mode)), zap.Error(err))
			return Resolution{}
		}
		texts := make([]string, 0, len(results))
		for _, hit := range results {
			texts = append(texts, hit.Text)
		}
		return Resolution{Block: strings.Join(texts, "\n\n"), Results: results}
	}

	if r.cache != nil {
		if block, ok, err := r.cache.GetBlock(ctx, userID); err == nil && ok {
			return Resolution{Block: block, FromCache: true}
		} else if err != nil {
			r.logger.Warn("context cache read failed", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}

	if rec, err := r.repo.FindByUser(ctx, userID); err == nil {
		if r.cache != nil {
			if err := r.cache.SetBlock(ctx, userID, rec.ContextBlock); err != nil {
				r.logger.Warn("context cache backfill failed", zap.Uint64("user_id", userID), zap.Error(err))
			}
		}
		return Resolution{Block: rec.ContextBlock, FromCache: true}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		r.logger.Warn("context row lookup failed, continuing without context",
			zap.Uint64("user_id", userID), zap.Error(err))
		return Resolution{}
	}

	block, err := r.client.FetchContext(ctx, userID, mode)
	if err != nil {
		r.logger.Warn("memory fetch failed, continuing without context",
			zap.Uint64("user_id", userID), zap.String("mode", string(mode)), zap.Error(err))
		return Resolution{}
	}
	return Resolution{Block: block, CacheMiss: true}
}

// CommitFresh persists a freshly fetched block after the response has been
// streamed. Idempotent last-write-wins upsert; failures are only logged.
func (r *Resolver) CommitFresh(ctx context.Context, userID uint64, sessionID string, mode Mode, block string) {
	if err := r.repo.UpsertBlock(ctx, userID, block, "mode="+string(mode), sessionID); err != nil {
		r.logger.Warn("context row upsert failed", zap.Uint64("user_id", userID), zap.Error(err))
		return
	}
	if r.cache != nil {
		if err := r.cache.SetBlock(ctx, userID, block); err != nil {
			r.logger.Warn("context cache write failed", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}
}

// Append records a finished turn in the live service, best-effort.
func (r *Resolver) Append(ctx context.Context, userID uint64, sessionID, userMsg, assistantMsg string) error {
	return r.client.AppendTurn(ctx, userID, sessionID, userMsg, assistantMsg)
}
