package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ContextRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakeClient struct {
	mu           sync.Mutex
	fetchCalls   int
	searchCalls  int
	appendCalls  int
	lastTopK     int
	contextBlock string
	results      []Result
	fail         bool
}

func (f *fakeClient) FetchContext(ctx context.Context, userID uint64, mode Mode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fail {
		return "", errors.New("memory service down")
	}
	return f.contextBlock, nil
}

func (f *fakeClient) Search(ctx context.Context, userID uint64, query string, mode Mode, topK int) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.lastTopK = topK
	if f.fail {
		return nil, errors.New("memory service down")
	}
	return f.results, nil
}

func (f *fakeClient) AppendTurn(ctx context.Context, userID uint64, sessionID, userMsg, assistantMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	return nil
}

func TestResolve_CacheHitSkipsLiveService(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	client := &fakeClient{contextBlock: "live block"}

	if err := repo.UpsertBlock(context.Background(), 1, "cached block", "mode=basic", "sess"); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	r := NewResolver(client, repo, nil, 5, zap.NewNop())
	res := r.Resolve(context.Background(), 1, "sess", "what do you know", ModeBasic, 0)

	if !res.FromCache {
		t.Fatalf("expected cache hit, got %+v", res)
	}
	if res.Block != "cached block" {
		t.Fatalf("returned block must equal the cached context_block exactly, got %q", res.Block)
	}
	if client.fetchCalls != 0 || client.searchCalls != 0 {
		t.Fatalf("cache hit must not call the live service: fetch=%d search=%d", client.fetchCalls, client.searchCalls)
	}
}

func TestResolve_CacheMissFetchesOnceAndCommitCreatesOneRow(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	client := &fakeClient{contextBlock: "fresh block"}
	r := NewResolver(client, repo, nil, 5, zap.NewNop())

	res := r.Resolve(context.Background(), 7, "sess", "q", ModeBasic, 0)
	if res.FromCache || !res.CacheMiss {
		t.Fatalf("expected live fetch on miss, got %+v", res)
	}
	if res.Block != "fresh block" {
		t.Fatalf("unexpected block %q", res.Block)
	}
	if client.fetchCalls != 1 {
		t.Fatalf("expected exactly one live call, got %d", client.fetchCalls)
	}

	// row is only persisted after the stream completed
	var count int64
	db.Model(&ContextRecord{}).Where("user_id = ?", uint64(7)).Count(&count)
	if count != 0 {
		t.Fatalf("row must not exist before commit, got %d", count)
	}

	r.CommitFresh(context.Background(), 7, "sess", ModeBasic, res.Block)
	db.Model(&ContextRecord{}).Where("user_id = ?", uint64(7)).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one cache row, got %d", count)
	}

	// next request hits the cache with zero live calls
	res2 := r.Resolve(context.Background(), 7, "sess", "q2", ModeBasic, 0)
	if !res2.FromCache || res2.Block != "fresh block" {
		t.Fatalf("expected cache hit after commit, got %+v", res2)
	}
	if client.fetchCalls != 1 {
		t.Fatalf("expected no additional live calls, got %d", client.fetchCalls)
	}
}

func TestResolve_QueryDrivenAlwaysLive(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	client := &fakeClient{results: []Result{{Text: "hit one", Score: 0.9}, {Text: "hit two", Score: 0.5}}}

	// even with a cached row present, query modes go live
	if err := repo.UpsertBlock(context.Background(), 2, "stale cache", "mode=basic", "s"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := NewResolver(client, repo, nil, 5, zap.NewNop())
	res := r.Resolve(context.Background(), 2, "s", "find things", ModeSimilarity, 0)

	if res.FromCache {
		t.Fatalf("query-driven mode must never come from cache")
	}
	if client.searchCalls != 1 {
		t.Fatalf("expected one search call, got %d", client.searchCalls)
	}
	if len(res.Results) != 2 || res.Block == "" {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	r.Resolve(context.Background(), 2, "s", "find more", ModeGraph, 0)
	if client.searchCalls != 2 {
		t.Fatalf("every query-driven request hits the service, got %d calls", client.searchCalls)
	}
}

func TestResolve_TopKOverridesDefault(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	client := &fakeClient{results: []Result{{Text: "hit", Score: 0.9}}}
	r := NewResolver(client, repo, nil, 5, zap.NewNop())

	r.Resolve(context.Background(), 9, "s", "narrow search", ModeSimilarity, 1)
	if client.lastTopK != 1 {
		t.Fatalf("requested top_k must reach the search, got %d", client.lastTopK)
	}

	r.Resolve(context.Background(), 9, "s", "default search", ModeSimilarity, 0)
	if client.lastTopK != 5 {
		t.Fatalf("zero top_k must fall back to the configured default, got %d", client.lastTopK)
	}
}

func TestResolve_FailureDegradesToNoContext(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	client := &fakeClient{fail: true}
	r := NewResolver(client, repo, nil, 5, zap.NewNop())

	res := r.Resolve(context.Background(), 3, "s", "q", ModeBasic, 0)
	if res.Block != "" || res.CacheMiss {
		t.Fatalf("failure must degrade to empty context, got %+v", res)
	}

	res = r.Resolve(context.Background(), 3, "s", "q", ModeSimilarity, 0)
	if res.Block != "" || len(res.Results) != 0 {
		t.Fatalf("search failure must degrade to empty context, got %+v", res)
	}
}

func TestFindOrCreate_ReportsExistence(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	rec, existed, err := repo.FindOrCreate(context.Background(), 11)
	if err != nil {
		t.Fatalf("first find-or-create: %v", err)
	}
	if existed {
		t.Fatalf("first call must report a fresh row")
	}
	if rec.UserID != 11 {
		t.Fatalf("unexpected record %+v", rec)
	}

	_, existed, err = repo.FindOrCreate(context.Background(), 11)
	if err != nil {
		t.Fatalf("second find-or-create: %v", err)
	}
	if !existed {
		t.Fatalf("second call must report the row pre-existed")
	}
}

func TestFindOrCreate_ConcurrentCreatesOneRow(t *testing.T) {
	db := openTestDB(t)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one writer connection: interleavings still race on the unique index
	sqlDB.SetMaxOpenConns(1)

	repo := NewRepo(db)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := repo.FindOrCreate(context.Background(), 42); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent find-or-create failed: %v", err)
	}

	var count int64
	db.Model(&ContextRecord{}).Where("user_id = ?", uint64(42)).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one row after racing creates, got %d", count)
	}
}

func TestUpsertBlock_BumpsVersion(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	if err := repo.UpsertBlock(context.Background(), 5, "v1 block", "mode=basic", "s1"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := repo.UpsertBlock(context.Background(), 5, "v2 block", "mode=summarized", "s2"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rec, err := repo.FindByUser(context.Background(), 5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.Version != 2 {
		t.Fatalf("expected version 2, got %d", rec.Version)
	}
	if rec.ContextBlock != "v2 block" || rec.LastSessionID != "s2" {
		t.Fatalf("last write must win: %+v", rec)
	}
}
