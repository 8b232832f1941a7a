package password

import "testing"

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Params.MemoryKiB != 64*1024 {
		t.Fatalf("unexpected memory: %d", cfg.Params.MemoryKiB)
	}
	if cfg.Policy.MinLength != 8 || cfg.Policy.MaxLength != 256 {
		t.Fatalf("unexpected policy: %+v", cfg.Policy)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TIDE_PASSWORD_MIN_LEN", "10")
	t.Setenv("TIDE_ARGON2_ITERATIONS", "4")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 10 {
		t.Fatalf("min length override not applied: %d", cfg.Policy.MinLength)
	}
	if cfg.Params.Iterations != 4 {
		t.Fatalf("iterations override not applied: %d", cfg.Params.Iterations)
	}
}

func TestFromEnv_RejectsInvalid(t *testing.T) {
	t.Setenv("TIDE_ARGON2_MEMORY_KIB", "-1")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for negative memory")
	}
}

func TestFromEnv_RejectsInvertedPolicy(t *testing.T) {
	t.Setenv("TIDE_PASSWORD_MIN_LEN", "100")
	t.Setenv("TIDE_PASSWORD_MAX_LEN", "10")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for min > max")
	}
}
