package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/chat-stream/internal/ai"
	"github.com/suPer8Hu/chat-stream/internal/chat"
	"github.com/suPer8Hu/chat-stream/internal/config"
	"github.com/suPer8Hu/chat-stream/internal/db"
	"github.com/suPer8Hu/chat-stream/internal/httpapi"
	"github.com/suPer8Hu/chat-stream/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-stream/internal/logging"
	"github.com/suPer8Hu/chat-stream/internal/memory"
	"github.com/suPer8Hu/chat-stream/internal/pricing"
	"github.com/suPer8Hu/chat-stream/internal/prompt"
	"github.com/suPer8Hu/chat-stream/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-stream/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	logger := logging.New()
	defer logger.Sync()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rds.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, context cache layer disabled", zap.Error(err))
			rds = nil
		}
		cancel()
	}

	// Telemetry export is optional: no RABBIT_URL keeps events DB-only.
	var pub chat.EventPublisher
	if cfg.RabbitURL != "" {
		rp, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Fatal("rabbit connect", zap.Error(err))
		}
		defer rp.Close()
		pub = rp
	}

	priceRegistry := pricing.NewRegistry(pricing.NewRepo(gdb), cfg.PricingTTL, cfg.DefaultModel, logger)

	var blockCache memory.BlockCache
	if rds != nil {
		blockCache = rds
	}
	resolver := memory.NewResolver(
		memory.NewHTTPClient(cfg.MemoryBaseURL, cfg.MemoryAPIKey),
		memory.NewRepo(gdb),
		blockCache,
		5,
		logger,
	)

	providers := ai.NewRegistry()
	providers.Register("openrouter", func() (ai.Streamer, error) {
		return ai.NewClient(ai.ClientOptions{
			BaseURL:        cfg.ProviderBaseURL,
			APIKey:         cfg.ProviderAPIKey,
			SiteURL:        cfg.ProviderSiteURL,
			AppName:        cfg.ProviderAppName,
			ConnectTimeout: cfg.ConnectTimeout,
			OverallTimeout: cfg.OverallTimeout,
			MaxAttempts:    cfg.MaxAttempts,
			RetryBaseDelay: cfg.RetryBaseDelay,
		}, logger), nil
	})
	streamer, err := providers.Get("openrouter")
	if err != nil {
		logger.Fatal("provider init", zap.Error(err))
	}

	repo := chat.NewRepo(gdb)
	tasks := chat.NewTaskQueue(256, 30*time.Second, logger)
	defer tasks.Close()
	recorder := chat.NewRecorder(repo, pub, logger)

	svc := chat.NewService(repo, streamer, priceRegistry, resolver, prompt.DefaultConfig(), tasks, recorder, cfg.PastMessagesMax, logger)

	h := handlers.NewHandler(svc, priceRegistry, cfg.HeartbeatInterval, logger)
	router := httpapi.NewRouter(h, cfg.JWTSecret, logger)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
