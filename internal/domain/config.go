package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Worker     WorkerConfig     `json:"worker"`

	// Engine settings
	Generator GeneratorConfig `json:"generator"`
	Scoring   ScoringConfig   `json:"scoring"`
	Timeline  TimelineConfig  `json:"timeline"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// GenerateRateLimit caps dataset generations per client per minute (0 = off).
	GenerateRateLimit int `json:"generateRateLimit"`
}

// WorkerConfig controls the async scoring worker.
type WorkerConfig struct {
	Enabled     bool `json:"enabled"`
	WorkerCount int  `json:"workerCount"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// IntRange is an inclusive integer range.
type IntRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// FloatRange is a closed float range.
type FloatRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// GeneratorConfig holds the distributions used for synthetic data.
type GeneratorConfig struct {
	Days        int        `json:"days"`
	DailyVolume IntRange   `json:"dailyVolume"`
	Amount      FloatRange `json:"amount"`

	// MinActiveMerchants is the lower bound of a day's active subset.
	MinActiveMerchants int `json:"minActiveMerchants"`

	BusinessHourStart int `json:"businessHourStart"`
	BusinessHourEnd   int `json:"businessHourEnd"`

	TicketSize        FloatRange `json:"ticketSize"`
	Revenue           FloatRange `json:"revenue"`
	Employees         IntRange   `json:"employees"`
	RegistrationYears int        `json:"registrationYears"`

	// MaxMerchants caps a single generation request.
	MaxMerchants int `json:"maxMerchants"`
}

// DefaultGeneratorConfig returns the standard generation distributions.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Days:               30,
		DailyVolume:        IntRange{Min: 10, Max: 50},
		Amount:             FloatRange{Min: 100, Max: 10000},
		MinActiveMerchants: 5,
		BusinessHourStart:  9,
		BusinessHourEnd:    17,
		TicketSize:         FloatRange{Min: 100, Max: 10000},
		Revenue:            FloatRange{Min: 100000, Max: 10000000},
		Employees:          IntRange{Min: 1, Max: 1000},
		RegistrationYears:  5,
		MaxMerchants:       9999,
	}
}

// ScoringConfig holds the risk engine parameters.
type ScoringConfig struct {
	Weights RiskWeights `json:"weights"`

	NightStartHour int `json:"nightStartHour"`
	NightEndHour   int `json:"nightEndHour"`

	// Sudden spike: score = clamp((maxZ - SpikeZFloor) / SpikeZSpan)
	SpikeZFloor float64 `json:"spikeZFloor"`
	SpikeZSpan  float64 `json:"spikeZSpan"`

	VelocityWindow time.Duration `json:"velocityWindow"`
	CyclingWindow  time.Duration `json:"cyclingWindow"`

	RoundDenomination float64 `json:"roundDenomination"`

	LookbackDays    int     `json:"lookbackDays"`
	MaxLookbackDays int     `json:"maxLookbackDays"`
	AlertThreshold  float64 `json:"alertThreshold"`
}

// DefaultScoringConfig returns the standard scoring parameters.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights:           DefaultRiskWeights(),
		NightStartHour:    22,
		NightEndHour:      5,
		SpikeZFloor:       2.0,
		SpikeZSpan:        2.0,
		VelocityWindow:    5 * time.Minute,
		CyclingWindow:     time.Hour,
		RoundDenomination: 100,
		LookbackDays:      30,
		MaxLookbackDays:   365,
		AlertThreshold:    0.7,
	}
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       30,
			WriteTimeout:      60,
			GenerateRateLimit: 10,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:            "sqlite",
			SQLitePath:        "./kestrel.db",
			SQLiteJournalMode: "WAL",
			SQLiteBusyTimeout: 5 * time.Second,
			ConnectTimeout:    10 * time.Second,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			MetricsTTL:   15 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:     false,
			WorkerCount: 5,
		},
		Generator: DefaultGeneratorConfig(),
		Scoring:   DefaultScoringConfig(),
		Timeline:  DefaultTimelineConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "kestrel",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		MetricsTTL:     15 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
