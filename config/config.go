package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port          string
	AppDBURL      string
	SessionDBPath string
	UploadDir     string

	// Session ids the worker brings up at start
	SessionIDs []string

	// Delivery worker limits
	WorkerConcurrency int
	WorkerRatePerSec  int
	ReconnectDelaySec int

	// HTTP rate limiter
	RateLimitPerSecond int
	RateLimitBurst     int

	CORSAllowOrigins []string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		AppDBURL:           getEnv("APP_DATABASE_URL", ""),
		SessionDBPath:      getEnv("SESSION_DB_PATH", "data/sessions.sqlite"),
		UploadDir:          getEnv("UPLOAD_DIR", "./uploads"),
		SessionIDs:         splitList(getEnv("SESSION_IDS", "default")),
		WorkerConcurrency:  getEnvAsInt("WORKER_CONCURRENCY", 5),
		WorkerRatePerSec:   getEnvAsInt("WORKER_RATE_PER_SECOND", 5),
		ReconnectDelaySec:  getEnvAsInt("RECONNECT_DELAY_SECONDS", 5),
		RateLimitPerSecond: getEnvAsInt("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
		CORSAllowOrigins:   splitList(getEnv("CORS_ALLOW_ORIGINS", "*")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
