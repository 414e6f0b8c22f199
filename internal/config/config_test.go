package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Sessions.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Sessions.Backend)
	}
	if cfg.Archive.Enabled || cfg.Kafka.AlertsEnabled || cfg.Evidence.Enabled {
		t.Error("optional integrations should default off")
	}
	if cfg.Policy.PointsCritical != 50 {
		t.Errorf("critical points = %d, want 50", cfg.Policy.PointsCritical)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"port too high", func(c *Config) { c.Server.HTTPPort = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"zero queue", func(c *Config) { c.Queue.Size = 0 }},
		{"bad backend", func(c *Config) { c.Sessions.Backend = "postgres" }},
		{"auth without hashes", func(c *Config) { c.Auth.Enabled = true }},
		{"bad policy", func(c *Config) { c.Policy.MaxScore = -1 }},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.AlertsEnabled = true
			c.Kafka.Client.Brokers = nil
		}},
		{"evidence without bucket", func(c *Config) {
			c.Evidence.Enabled = true
			c.Evidence.S3.Bucket = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9090
logging:
  level: debug
sessions:
  backend: redis
  redis:
    addr: redis.internal:6379
policy:
  points_low: 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROCTOR_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Sessions.Backend != "redis" || cfg.Sessions.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis config not loaded: %+v", cfg.Sessions)
	}
	if cfg.Policy.PointsLow != 10 {
		t.Errorf("points_low = %d, want 10", cfg.Policy.PointsLow)
	}
	// Unspecified fields keep defaults.
	if cfg.Policy.PointsCritical != 50 {
		t.Errorf("points_critical = %d, want default 50", cfg.Policy.PointsCritical)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PROCTOR_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.HTTPPort)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROCTOR_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROCTOR_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("PROCTOR_HTTP_PORT", "7070")
	t.Setenv("PROCTOR_LOG_LEVEL", "warn")
	t.Setenv("PROCTOR_API_KEY_HASH", "$2a$10$fakehash")
	t.Setenv("PROCTOR_SESSION_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092 ,")
	t.Setenv("PROCTOR_EVIDENCE_BUCKET", "exam-evidence")
	t.Setenv("PROCTOR_RATELIMIT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if !cfg.Auth.Enabled || len(cfg.Auth.APIKeyHashes) != 1 {
		t.Error("api key hash override did not enable auth")
	}
	if cfg.Sessions.Backend != "redis" || cfg.Sessions.Redis.Addr != "cache:6379" {
		t.Errorf("redis overrides not applied: %+v", cfg.Sessions)
	}
	if len(cfg.Kafka.Client.Brokers) != 2 || cfg.Kafka.Client.Brokers[1] != "b2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Client.Brokers)
	}
	if !cfg.Evidence.Enabled || cfg.Evidence.S3.Bucket != "exam-evidence" {
		t.Errorf("evidence override not applied: %+v", cfg.Evidence)
	}
	if cfg.RateLimit.Enabled {
		t.Error("rate limit disable override not applied")
	}
}

func TestValidatorConfig(t *testing.T) {
	cfg := DefaultConfig()
	vc := cfg.ValidatorConfig()
	if vc.MaxAge != cfg.Validation.MaxEventAge || vc.MaxFuture != cfg.Validation.MaxFuture {
		t.Errorf("validator config mismatch: %+v", vc)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a, b ,, c ", ",")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
