package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PresenceTTL != 5*time.Minute {
		t.Fatalf("PresenceTTL = %v", cfg.PresenceTTL)
	}
	if cfg.PartitionMax != 2000 || cfg.RetentionDays != 90 {
		t.Fatalf("partition defaults: max=%d retention=%d", cfg.PartitionMax, cfg.RetentionDays)
	}
	if cfg.WindowDays != 7 || cfg.WindowLimit != 200 {
		t.Fatalf("window defaults: days=%d limit=%d", cfg.WindowDays, cfg.WindowLimit)
	}
	if cfg.RedisURL != "" || cfg.DatabaseURL != "" {
		t.Fatalf("store URLs should default to empty")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("TIDE_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("TIDE_PRESENCE_TTL", "30s")
	t.Setenv("TIDE_PARTITION_MAX", "100")
	t.Setenv("TIDE_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("TIDE_READINESS_REQUIRE_STORE", "true")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PresenceTTL != 30*time.Second {
		t.Fatalf("PresenceTTL = %v", cfg.PresenceTTL)
	}
	if cfg.PartitionMax != 100 {
		t.Fatalf("PartitionMax = %d", cfg.PartitionMax)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.ReadinessRequireStore {
		t.Fatalf("ReadinessRequireStore should be true")
	}
}

func TestEnvHelpersRejectGarbage(t *testing.T) {
	t.Setenv("TIDE_TEST_INT", "-5")
	t.Setenv("TIDE_TEST_DUR", "soon")
	t.Setenv("TIDE_TEST_BOOL", "maybe")

	if got := EnvInt("TIDE_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt = %d, want default", got)
	}
	if got := EnvDuration("TIDE_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("EnvDuration = %v, want default", got)
	}
	if got := EnvBool("TIDE_TEST_BOOL", true); got != true {
		t.Fatalf("EnvBool = %v, want default", got)
	}
}
