// Package config loads Kestrel configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const prefix = "KESTREL_"

// Load builds a configuration from the tier defaults and KESTREL_*
// environment variables. Files are loaded into the environment first
// (".env" when none are given); missing files are ignored and variables
// already set in the process win.
func Load(files ...string) (*domain.Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(getEnv("TIER", ""), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	var p parser

	// Server
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Port = p.getInt("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = p.getInt("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = p.getInt("WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.GenerateRateLimit = p.getInt("GENERATE_RATE_LIMIT", cfg.Server.GenerateRateLimit)

	// Repository
	cfg.Repository.Driver = getEnv("DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.SQLiteJournalMode = getEnv("SQLITE_JOURNAL_MODE", cfg.Repository.SQLiteJournalMode)
	cfg.Repository.SQLiteBusyTimeout = p.getDuration("SQLITE_BUSY_TIMEOUT", cfg.Repository.SQLiteBusyTimeout)
	cfg.Repository.PostgresHost = getEnv("POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = p.getInt("POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)
	cfg.Repository.MaxOpenConns = p.getInt("DB_MAX_OPEN_CONNS", cfg.Repository.MaxOpenConns)
	cfg.Repository.MaxIdleConns = p.getInt("DB_MAX_IDLE_CONNS", cfg.Repository.MaxIdleConns)
	cfg.Repository.ConnMaxLifetime = p.getDuration("DB_CONN_MAX_LIFETIME", cfg.Repository.ConnMaxLifetime)
	cfg.Repository.ConnectTimeout = p.getDuration("DB_CONNECT_TIMEOUT", cfg.Repository.ConnectTimeout)

	// Cache
	cfg.Cache.Type = getEnv("CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = p.getInt("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.LocalMaxSize = p.getInt("CACHE_SIZE", cfg.Cache.LocalMaxSize)
	cfg.Cache.LocalTTL = p.getDuration("CACHE_LOCAL_TTL", cfg.Cache.LocalTTL)
	cfg.Cache.MetricsTTL = p.getDuration("CACHE_METRICS_TTL", cfg.Cache.MetricsTTL)
	cfg.Cache.EnableTwoPhase = p.getBool("CACHE_TWO_PHASE", cfg.Cache.EnableTwoPhase)

	// Event bus
	cfg.EventBus.Type = getEnv("BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.ChannelBufferSize = p.getInt("BUS_BUFFER_SIZE", cfg.EventBus.ChannelBufferSize)

	// Worker
	cfg.Worker.Enabled = p.getBool("ASYNC_WORKER", cfg.Worker.Enabled)
	cfg.Worker.WorkerCount = p.getInt("WORKER_COUNT", cfg.Worker.WorkerCount)

	// Engines
	cfg.Generator.Days = p.getInt("GENERATOR_DAYS", cfg.Generator.Days)
	cfg.Generator.MaxMerchants = p.getInt("MAX_MERCHANTS", cfg.Generator.MaxMerchants)
	cfg.Scoring.LookbackDays = p.getInt("LOOKBACK_DAYS", cfg.Scoring.LookbackDays)
	cfg.Scoring.AlertThreshold = p.getFloat("ALERT_THRESHOLD", cfg.Scoring.AlertThreshold)
	cfg.Scoring.SpikeZFloor = p.getFloat("SPIKE_Z_FLOOR", cfg.Scoring.SpikeZFloor)
	cfg.Scoring.SpikeZSpan = p.getFloat("SPIKE_Z_SPAN", cfg.Scoring.SpikeZSpan)
	cfg.Scoring.VelocityWindow = p.getDuration("VELOCITY_WINDOW", cfg.Scoring.VelocityWindow)
	cfg.Scoring.CyclingWindow = p.getDuration("CYCLING_WINDOW", cfg.Scoring.CyclingWindow)
	cfg.Timeline.MaxRangeDays = p.getInt("TIMELINE_MAX_DAYS", cfg.Timeline.MaxRangeDays)

	// Observability
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	if p.getBool("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Tracing.Enabled = p.getBool("TRACING", cfg.Tracing.Enabled)

	if p.err != nil {
		return nil, p.err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late at startup.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return domain.NewConfigurationError(prefix+"PORT", "must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return domain.NewConfigurationError(prefix+"DB_DRIVER", "must be sqlite or postgres, got %q", cfg.Repository.Driver)
	}
	if cfg.Scoring.LookbackDays < 1 || cfg.Scoring.LookbackDays > cfg.Scoring.MaxLookbackDays {
		return domain.NewConfigurationError(prefix+"LOOKBACK_DAYS", "must be between 1 and %d", cfg.Scoring.MaxLookbackDays)
	}
	if cfg.Scoring.AlertThreshold <= 0 || cfg.Scoring.AlertThreshold > 1 {
		return domain.NewConfigurationError(prefix+"ALERT_THRESHOLD", "must be in (0, 1]")
	}
	if cfg.Worker.WorkerCount < 1 {
		return domain.NewConfigurationError(prefix+"WORKER_COUNT", "must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(prefix + key); value != "" {
		return value
	}
	return defaultValue
}

// parser keeps the first malformed variable so Load can report it.
type parser struct {
	err error
}

func (p *parser) fail(key, value, kind string) {
	if p.err == nil {
		p.err = domain.NewConfigurationError(prefix+key, "is not a valid %s: %q", kind, value)
	}
}

func (p *parser) getInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, "integer")
		return defaultValue
	}
	return i
}

func (p *parser) getFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, "number")
		return defaultValue
	}
	return f
}

func (p *parser) getBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, "boolean")
		return defaultValue
	}
	return b
}

func (p *parser) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, "duration")
		return defaultValue
	}
	return d
}
