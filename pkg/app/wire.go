package app

import (
	"log/slog"

	"github.com/ferrant/reverie/internal/config"
	"github.com/ferrant/reverie/internal/conversation"
	"github.com/ferrant/reverie/internal/delivery"
	"github.com/ferrant/reverie/internal/gateway"
	"github.com/ferrant/reverie/internal/jobguard"
	"github.com/ferrant/reverie/internal/jobs"
	"github.com/ferrant/reverie/internal/pipeline"
	"github.com/ferrant/reverie/internal/recovery"
	"github.com/ferrant/reverie/internal/store"
)

// components is the fully wired object graph. Construction order follows
// the dependency arrows: store first, domain services on top, the runner
// and gateway last.
type components struct {
	store   *store.Store
	runner  *jobs.Runner
	gateway *gateway.Gateway
}

// wire builds every component from configuration. All dependencies are
// passed explicitly; nothing is looked up through globals.
func wire(cfg *config.Config, logger *slog.Logger) (*components, error) {
	st, err := store.Open(store.Options{
		Path:        cfg.Storage.Path,
		WAL:         cfg.Storage.WAL == nil || *cfg.Storage.WAL,
		BusyTimeout: cfg.Storage.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	tracker := conversation.NewTracker(st, logger, cfg.Conversations.MaxAttempts)
	detector := conversation.NewDetector(st, logger, conversation.Thresholds{
		Default:     cfg.Conversations.IdleThreshold,
		PerPlatform: cfg.Conversations.PlatformIdleThresholds,
	}, cfg.Conversations.DetectLimit)
	sweeper := recovery.NewSweeper(st, logger, cfg.Conversations.StuckThreshold, cfg.Conversations.MaxAttempts)

	var extractor pipeline.Extractor = pipeline.NopExtractor{}
	if cfg.Pipeline.ExtractorURL != "" {
		extractor = pipeline.NewHTTPExtractor(cfg.Pipeline.ExtractorURL, cfg.Pipeline.ExtractorToken, cfg.Pipeline.ExtractorTimeout)
	}
	pipe := pipeline.New(tracker, st, st, extractor, logger)

	senders := make(map[string]delivery.Sender)
	if cfg.Delivery.Telegram.Token != "" {
		senders[delivery.PlatformTelegram] = delivery.NewTelegramSender(cfg.Delivery.Telegram.Token, cfg.Delivery.Telegram.BaseURL)
	}
	if cfg.Delivery.Voice.Endpoint != "" {
		senders[delivery.PlatformVoice] = delivery.NewVoiceSender(cfg.Delivery.Voice.Endpoint, cfg.Delivery.Voice.Token)
	}
	deliverySystem := delivery.NewSystem(st, senders, logger, delivery.Options{
		MaxRetries:  cfg.Delivery.MaxRetries,
		BackoffBase: cfg.Delivery.BackoffBase,
	})

	guard := jobguard.NewGuard(st, logger)
	runner := jobs.NewRunner(guard, detector, tracker, pipe, sweeper, deliverySystem, st, logger, jobs.Config{
		Cooldown:    cfg.Jobs.Cooldown,
		DecayFactor: cfg.Jobs.DecayFactor,
		RetainRuns:  cfg.Jobs.RetainRuns,
		SweepLimit:  cfg.Delivery.SweepLimit,
		MaxEventAge: cfg.Delivery.MaxEventAge,
		Concurrency: cfg.Pipeline.Concurrency,
		BatchCap:    cfg.Pipeline.BatchCap,
	})

	gw := gateway.New(cfg.Gateway, runner, st, logger)

	return &components{store: st, runner: runner, gateway: gw}, nil
}
