package config

import (
	"errors"
	"fmt"
	"net"
)

// knownPlatforms are the platforms the delivery system can route to.
// Platform threshold overrides must name one of these.
var knownPlatforms = map[string]struct{}{
	"telegram": {},
	"voice":    {},
}

// Validate checks the structural validity of a Config. It assumes
// Defaults() has already been applied (Load does this).
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if cfg.Storage.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: storage.busy_timeout must be non-negative, got %d", cfg.Storage.BusyTimeout))
	}

	for platform, d := range cfg.Conversations.PlatformIdleThresholds {
		if _, ok := knownPlatforms[platform]; !ok {
			errs = append(errs, fmt.Errorf("config: conversations.platform_idle_thresholds: unknown platform %q", platform))
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("config: conversations.platform_idle_thresholds[%s] must be positive", platform))
		}
	}

	// Stuck work must be reclaimed faster than idle work is discovered,
	// otherwise a wedged conversation blocks its own retry cycle.
	if cfg.Conversations.StuckThreshold > cfg.Conversations.IdleThreshold*4 {
		errs = append(errs, fmt.Errorf(
			"config: conversations.stuck_threshold (%s) is implausibly large relative to idle_threshold (%s)",
			cfg.Conversations.StuckThreshold, cfg.Conversations.IdleThreshold,
		))
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.Gateway.Bind); err != nil {
		errs = append(errs, fmt.Errorf("config: gateway.bind: invalid address %q", cfg.Gateway.Bind))
	}

	if cfg.Delivery.Voice.Endpoint == "" && cfg.Delivery.Telegram.Token == "" {
		// Not an error: a deployment may only produce events and deliver
		// them elsewhere. But a completely senderless config with the
		// scheduler enabled deserves a hard failure, because the delivery
		// sweep would permanently fail every event it picks up.
		if cfg.Scheduler.Enabled {
			errs = append(errs, errors.New("config: scheduler.enabled requires at least one delivery sender (delivery.telegram.token or delivery.voice.endpoint)"))
		}
	}

	errs = append(errs, validateSchedules(cfg.Jobs.Schedules)...)

	return errors.Join(errs...)
}

// jobNames are the periodic entry points the scheduler can drive.
var jobNames = map[string]struct{}{
	"decay":               {},
	"delivery_sweep":      {},
	"daily_summary":       {},
	"cleanup":             {},
	"stale_conversations": {},
}

func validateSchedules(schedules map[string]string) []error {
	var errs []error
	for name, expr := range schedules {
		if _, ok := jobNames[name]; !ok {
			errs = append(errs, fmt.Errorf("config: jobs.schedules: unknown job %q", name))
		}
		if expr == "" {
			errs = append(errs, fmt.Errorf("config: jobs.schedules[%s]: empty cron expression", name))
		}
	}
	return errs
}
