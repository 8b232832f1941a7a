package chatapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls chat API behavior.
type Config struct {
	MaxBodyBytes int64
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxBodyBytes: envInt64("TIDE_API_MAX_BODY_BYTES", 64<<10), // 64 KiB; bodies are capped at 1000 chars anyway
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return cfg
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
