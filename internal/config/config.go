package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBDSN         string
	JWTSecret     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LLM provider (OpenAI-compatible chat completions endpoint)
	ProviderBaseURL string
	ProviderAPIKey  string
	DefaultModel    string
	ProviderSiteURL string
	ProviderAppName string
	ConnectTimeout  time.Duration
	OverallTimeout  time.Duration
	MaxAttempts     int
	RetryBaseDelay  time.Duration

	// Memory service
	MemoryBaseURL string
	MemoryAPIKey  string

	// Streaming
	HeartbeatInterval time.Duration
	PastMessagesMax   int

	// Pricing cache
	PricingTTL time.Duration

	// RabbitMQ telemetry export
	RabbitURL   string
	RabbitQueue string
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func Load() Config {
	// DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/chat_stream?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "chat_stream",
		)
	}

	return Config{
		DBDSN:     dsn,
		JWTSecret: envStr("JWT_SECRET", "dev-secret-change-me"),

		RedisAddr:     envStr("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		ProviderBaseURL: envStr("PROVIDER_BASE_URL", "https://openrouter.ai/api/v1"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		DefaultModel:    envStr("DEFAULT_MODEL", "gpt-4o-mini"),
		ProviderSiteURL: os.Getenv("PROVIDER_SITE_URL"),
		ProviderAppName: os.Getenv("PROVIDER_APP_NAME"),
		ConnectTimeout:  envDur("PROVIDER_CONNECT_TIMEOUT", 10*time.Second),
		OverallTimeout:  envDur("PROVIDER_OVERALL_TIMEOUT", 120*time.Second),
		MaxAttempts:     envInt("PROVIDER_MAX_ATTEMPTS", 3),
		RetryBaseDelay:  envDur("PROVIDER_RETRY_BASE_DELAY", 500*time.Millisecond),

		MemoryBaseURL: envStr("MEMORY_BASE_URL", "http://localhost:8765"),
		MemoryAPIKey:  os.Getenv("MEMORY_API_KEY"),

		HeartbeatInterval: envDur("SSE_HEARTBEAT_INTERVAL", 10*time.Second),
		PastMessagesMax:   envInt("PAST_MESSAGES_MAX", 50),

		PricingTTL: envDur("PRICING_CACHE_TTL", 5*time.Minute),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: envStr("RABBIT_QUEUE", "telemetry_events"),
	}
}
