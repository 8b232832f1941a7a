package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Storage backend selection. RedisURL wins over DatabaseURL; with
	// neither set the server runs on the in-memory store.
	RedisURL    string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	PresenceTTL   time.Duration
	PartitionMax  int
	RetentionDays int
	WindowDays    int
	WindowLimit   int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless a durable store is configured and reachable.
	ReadinessRequireStore bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TIDE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TIDE_LOG_LEVEL", "info"),
		LogFormat: EnvString("TIDE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TIDE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TIDE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TIDE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TIDE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TIDE_HTTP_MAX_HEADER_BYTES", 1<<20),

		RedisURL:    EnvString("TIDE_REDIS_URL", ""),
		DatabaseURL: EnvString("TIDE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TIDE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TIDE_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("TIDE_DB_SCHEMA", "tide"),

		PresenceTTL:   EnvDuration("TIDE_PRESENCE_TTL", 5*time.Minute),
		PartitionMax:  EnvInt("TIDE_PARTITION_MAX", 2000),
		RetentionDays: EnvInt("TIDE_RETENTION_DAYS", 90),
		WindowDays:    EnvInt("TIDE_WINDOW_DAYS", 7),
		WindowLimit:   EnvInt("TIDE_WINDOW_LIMIT", 200),

		CORSAllowedOrigins:   EnvStringSlice("TIDE_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("TIDE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("TIDE_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireStore: EnvBool("TIDE_READINESS_REQUIRE_STORE", false),
	}
}
