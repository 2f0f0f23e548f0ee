// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for reverie.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Storage       StorageConfig       `yaml:"storage"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// StorageConfig holds the SQLite database settings.
type StorageConfig struct {
	// Path is the database file path. Defaults to {DataDir}/reverie.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode for concurrent reads. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`
}

// ConversationsConfig controls idle detection, reservation, and recovery.
type ConversationsConfig struct {
	// IdleThreshold is how long a conversation must be silent before the
	// detector considers it ready for enrichment.
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// PlatformIdleThresholds overrides IdleThreshold per platform.
	// Voice sessions typically go idle much faster than text.
	PlatformIdleThresholds map[string]time.Duration `yaml:"platform_idle_thresholds"`

	// StuckThreshold is how long a conversation may sit in processing
	// before the recovery sweep reclaims it. Deliberately much shorter
	// than IdleThreshold.
	StuckThreshold time.Duration `yaml:"stuck_threshold"`

	// MaxAttempts caps processing attempts before a conversation is
	// force-failed by recovery.
	MaxAttempts int `yaml:"max_attempts"`

	// DetectLimit caps how many stale conversations one detector query returns.
	DetectLimit int `yaml:"detect_limit"`
}

// PipelineConfig controls the enrichment pipeline and its extraction collaborator.
type PipelineConfig struct {
	// ExtractorURL is the extraction service endpoint. Empty disables
	// extraction (a no-op extractor is used).
	ExtractorURL string `yaml:"extractor_url"`

	// ExtractorToken is an optional bearer token for the extraction service.
	ExtractorToken string `yaml:"extractor_token"`

	// ExtractorTimeout bounds a single extraction call. Defaults to 60s.
	ExtractorTimeout time.Duration `yaml:"extractor_timeout"`

	// Concurrency caps how many conversations are enriched in parallel
	// within one job invocation.
	Concurrency int `yaml:"concurrency"`

	// BatchCap caps how many detected conversations one job invocation
	// processes; the remainder is deferred to the next cycle.
	BatchCap int `yaml:"batch_cap"`
}

// DeliveryConfig controls the scheduled event delivery system.
type DeliveryConfig struct {
	// MaxRetries caps delivery attempts per event.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is the unit for exponential retry backoff: a retry is
	// rescheduled backoff_base * 2^retry_count in the future. Defaults to 1m.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// SweepLimit caps how many due events one sweep picks up.
	SweepLimit int `yaml:"sweep_limit"`

	// MaxEventAge is the hard ceiling after which pending events are
	// force-failed regardless of remaining retry budget.
	MaxEventAge time.Duration `yaml:"max_event_age"`

	Telegram TelegramConfig `yaml:"telegram"`
	Voice    VoiceConfig    `yaml:"voice"`
}

// TelegramConfig configures the Telegram delivery sender.
type TelegramConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// VoiceConfig configures the voice-call delivery sender.
type VoiceConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

// JobsConfig controls the periodic job guard and schedules.
type JobsConfig struct {
	// Cooldown is the idempotency window: a job that already started
	// within this window is skipped. Should be shorter than the trigger
	// interval (e.g. 50m for an hourly job).
	Cooldown time.Duration `yaml:"cooldown"`

	// RetainRuns is how long completed job run records are kept before
	// the cleanup job prunes them.
	RetainRuns time.Duration `yaml:"retain_runs"`

	// DecayFactor is the per-run multiplier applied to fact salience by
	// the decay job. Must be in (0, 1].
	DecayFactor float64 `yaml:"decay_factor"`

	// Schedules maps job names to cron expressions for the built-in
	// scheduler. Unset jobs use their defaults.
	Schedules map[string]string `yaml:"schedules"`
}

// GatewayConfig holds HTTP trigger surface configuration.
type GatewayConfig struct {
	Bind string `yaml:"bind"`

	// AuthToken is the shared-secret bearer token for job endpoints.
	// Empty leaves the endpoints open (development mode).
	AuthToken string `yaml:"auth_token"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SchedulerConfig controls the optional built-in cron scheduler. When
// disabled, jobs only run when an external trigger hits the gateway.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig controls optional OTLP trace export.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (host:port). Empty
	// disables tracing.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure"`
}

// Defaults fills zero values with sensible defaults.
func (c *Config) Defaults() {
	if c.Storage.WAL == nil {
		t := true
		c.Storage.WAL = &t
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = 5000
	}

	if c.Conversations.IdleThreshold <= 0 {
		c.Conversations.IdleThreshold = 15 * time.Minute
	}
	if c.Conversations.StuckThreshold <= 0 {
		c.Conversations.StuckThreshold = 30 * time.Minute
	}
	if c.Conversations.MaxAttempts <= 0 {
		c.Conversations.MaxAttempts = 3
	}
	if c.Conversations.DetectLimit <= 0 {
		c.Conversations.DetectLimit = 50
	}

	if c.Pipeline.ExtractorTimeout <= 0 {
		c.Pipeline.ExtractorTimeout = 60 * time.Second
	}
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = 4
	}
	if c.Pipeline.BatchCap <= 0 {
		c.Pipeline.BatchCap = 20
	}

	if c.Delivery.MaxRetries <= 0 {
		c.Delivery.MaxRetries = 3
	}
	if c.Delivery.BackoffBase <= 0 {
		c.Delivery.BackoffBase = time.Minute
	}
	if c.Delivery.SweepLimit <= 0 {
		c.Delivery.SweepLimit = 25
	}
	if c.Delivery.MaxEventAge <= 0 {
		c.Delivery.MaxEventAge = 7 * 24 * time.Hour
	}
	if c.Delivery.Telegram.BaseURL == "" {
		c.Delivery.Telegram.BaseURL = "https://api.telegram.org"
	}

	if c.Jobs.Cooldown <= 0 {
		c.Jobs.Cooldown = 50 * time.Minute
	}
	if c.Jobs.RetainRuns <= 0 {
		c.Jobs.RetainRuns = 30 * 24 * time.Hour
	}
	if c.Jobs.DecayFactor <= 0 || c.Jobs.DecayFactor > 1 {
		c.Jobs.DecayFactor = 0.98
	}

	if c.Gateway.Bind == "" {
		c.Gateway.Bind = "127.0.0.1:8080"
	}
	if c.Gateway.ReadTimeout <= 0 {
		c.Gateway.ReadTimeout = 10 * time.Second
	}
	if c.Gateway.WriteTimeout <= 0 {
		c.Gateway.WriteTimeout = 30 * time.Second
	}
	if c.Gateway.ShutdownTimeout <= 0 {
		c.Gateway.ShutdownTimeout = 5 * time.Second
	}
}
