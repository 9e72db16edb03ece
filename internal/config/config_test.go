package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected community backends: %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scoring.AlertThreshold != 0.7 || cfg.Scoring.LookbackDays != 30 {
		t.Errorf("unexpected scoring defaults: %+v", cfg.Scoring)
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "PRO")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" {
		t.Errorf("expected pro backends, got %+v", cfg)
	}
	if !cfg.Cache.EnableTwoPhase || !cfg.Worker.Enabled {
		t.Error("pro tier should enable two-phase cache and worker")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KESTREL_PORT", "9090")
	t.Setenv("KESTREL_SQLITE_PATH", "/tmp/kestrel-test.db")
	t.Setenv("KESTREL_ALERT_THRESHOLD", "0.55")
	t.Setenv("KESTREL_VELOCITY_WINDOW", "10m")
	t.Setenv("KESTREL_ASYNC_WORKER", "true")
	t.Setenv("KESTREL_WORKER_COUNT", "8")
	t.Setenv("KESTREL_DEBUG", "true")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Repository.SQLitePath != "/tmp/kestrel-test.db" {
		t.Errorf("unexpected sqlite path %s", cfg.Repository.SQLitePath)
	}
	if cfg.Scoring.AlertThreshold != 0.55 {
		t.Errorf("expected threshold 0.55, got %.2f", cfg.Scoring.AlertThreshold)
	}
	if cfg.Scoring.VelocityWindow != 10*time.Minute {
		t.Errorf("expected 10m velocity window, got %v", cfg.Scoring.VelocityWindow)
	}
	if !cfg.Worker.Enabled || cfg.Worker.WorkerCount != 8 {
		t.Errorf("unexpected worker config %+v", cfg.Worker)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "KESTREL_PORT=7070\nKESTREL_LOG_FORMAT=text\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv sets process variables; register them for cleanup.
	t.Setenv("KESTREL_PORT", "")
	t.Setenv("KESTREL_LOG_FORMAT", "")
	os.Unsetenv("KESTREL_PORT")
	os.Unsetenv("KESTREL_LOG_FORMAT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Logging.Format != "text" {
		t.Errorf("env file not applied: port %d format %s", cfg.Server.Port, cfg.Logging.Format)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"malformed port", "KESTREL_PORT", "eighty"},
		{"port out of range", "KESTREL_PORT", "70000"},
		{"malformed bool", "KESTREL_ASYNC_WORKER", "sometimes"},
		{"malformed duration", "KESTREL_CACHE_LOCAL_TTL", "5 minutes"},
		{"unknown driver", "KESTREL_DB_DRIVER", "mysql"},
		{"lookback too long", "KESTREL_LOOKBACK_DAYS", "400"},
		{"threshold above one", "KESTREL_ALERT_THRESHOLD", "1.5"},
		{"no workers", "KESTREL_WORKER_COUNT", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load(noEnvFile(t))
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.key {
				t.Errorf("expected error on %s, got %v", tt.key, err)
			}
		})
	}
}
