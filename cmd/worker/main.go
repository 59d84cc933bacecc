package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/suPer8Hu/chat-stream/internal/chat"
	"github.com/suPer8Hu/chat-stream/internal/config"
	"github.com/suPer8Hu/chat-stream/internal/db"
	"github.com/suPer8Hu/chat-stream/internal/logging"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

// The worker consumes exported telemetry events and maintains the per-day
// usage rollups billing dashboards read.
func main() {
	cfg := config.Load()
	logger := logging.New()
	defer logger.Sync()

	if cfg.RabbitURL == "" {
		logger.Fatal("RABBIT_URL is required for the rollup worker")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	repo := chat.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, nil); err != nil {
		logger.Fatal("queue declare", zap.Error(err))
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("rollup worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency))

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				if err := handleEvent(ctx, repo, d); err != nil {
					logger.Warn("event handling failed",
						zap.Int("worker", workerID), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				if err := d.Ack(false); err != nil {
					logger.Warn("ack failed", zap.Int("worker", workerID), zap.Error(err))
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

type providerCallPayload struct {
	Model     string  `json:"model"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

func handleEvent(ctx context.Context, repo *chat.Repo, d amqp.Delivery) error {
	var ev chat.ExportedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return err
	}
	// Only priced calls feed the rollups; everything else is already durable
	// in telemetry_events on the API side.
	if ev.Kind != chat.KindProviderCall {
		return nil
	}

	var p providerCallPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}

	day := d.Timestamp
	if day.IsZero() {
		day = time.Now()
	}
	return repo.AddToRollup(ctx, day.UTC().Format("2006-01-02"), ev.UserID, p.Model, p.TokensIn, p.TokensOut, p.CostUSD)
}
