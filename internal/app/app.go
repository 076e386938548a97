package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lettercast/internal/config"
	"lettercast/internal/domain"
	"lettercast/internal/infrastructure/automation"
	"lettercast/internal/infrastructure/mail"
	"lettercast/internal/infrastructure/storage"
	"lettercast/internal/infrastructure/telegram"
	"lettercast/internal/infrastructure/web"
	"lettercast/internal/logging"
	"lettercast/internal/ports"
	"lettercast/internal/retry"
	"lettercast/internal/usecase"
)

// Options adjust a single run without touching the config file.
type Options struct {
	CollectOnly bool
	DryRun      bool
}

// Application wires config to adapters, stages, and the orchestrator.
type Application struct {
	cfg          config.Config
	store        *storage.SQLiteStore
	orchestrator *usecase.Orchestrator
	logger       *slog.Logger
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, opts Options, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(cfg.Storage.DBPath, logging.Component(baseLogger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	var collectors []ports.Collector
	var mailReader ports.MailReader

	if cfg.Mail.CredentialsPath != "" {
		gmailCollector, err := mail.NewCollector(ctx,
			cfg.Mail.CredentialsPath, cfg.Mail.TokenPath,
			cfg.Mail.AllowedSenders, cfg.Mail.MaxResults,
			logging.Component(baseLogger, "collector.mail"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create mail collector: %w", err)
		}
		collectors = append(collectors, gmailCollector)
		mailReader = gmailCollector
	}

	if len(cfg.WebSources) > 0 {
		sources := make([]web.Source, 0, len(cfg.WebSources))
		for _, s := range cfg.WebSources {
			sources = append(sources, web.Source{
				Name:     s.Name,
				URL:      s.URL,
				Type:     web.SourceType(s.Type),
				Selector: s.Selector,
			})
		}
		collectors = append(collectors, web.NewCollector(sources, logging.Component(baseLogger, "collector.web")))
	}

	bridge := automation.NewBridge(cfg.Automation.BridgeURL, cfg.Automation.Timeout(),
		logging.Component(baseLogger, "automation"))
	delivery := telegram.NewDelivery(cfg.Telegram.BotToken, cfg.Telegram.ChannelID,
		logging.Component(baseLogger, "telegram"))

	policy := buildPolicy(cfg.Retry)

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Store:       store,
		Locker:      store,
		Collect:     usecase.NewCollectStage(collectors, policy, baseLogger.With("stage", "collect")),
		Filter:      usecase.NewFilterStage(store, cfg.Storage.MaxAge(), opts.DryRun, baseLogger.With("stage", "filter")),
		Generate:    usecase.NewGenerateStage(store, bridge, policy, baseLogger.With("stage", "generate")),
		Deliver:     usecase.NewDeliverStage(store, delivery, mailReader, policy, baseLogger.With("stage", "deliver")),
		Cleanup:     usecase.NewCleanupStage(store, bridge, baseLogger.With("stage", "cleanup")),
		Logger:      logging.Component(baseLogger, "orchestrator"),
		LockStale:   cfg.Storage.RunLockStale(),
		CollectOnly: opts.CollectOnly,
		DryRun:      opts.DryRun,
	})

	return &Application{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		logger:       baseLogger,
	}, nil
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context) error {
	_, err := a.orchestrator.Run(ctx)
	return err
}

// Close releases the application's resources.
func (a *Application) Close() error {
	return a.store.Close()
}

// buildPolicy starts from the built-in policy table and applies configured
// limit and base-delay overrides while keeping each rule's backoff shape.
func buildPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.Default()

	override := func(stage retry.Stage, kind domain.ErrorKind, o config.RetryRule) {
		rule, ok := policy.Rule(stage, kind)
		if !ok {
			return
		}
		if o.MaxRetries != 0 {
			rule.MaxRetries = o.MaxRetries
		}
		if o.BaseSeconds != 0 {
			rule.Base = time.Duration(o.BaseSeconds) * time.Second
		}
		policy.Set(stage, kind, rule)
	}

	override(retry.StageCollect, domain.KindMailQuota, cfg.MailQuota)
	override(retry.StageCollect, domain.KindSiteUnreachable, cfg.SiteUnreachable)
	override(retry.StageFilter, domain.KindSiteUnreachable, cfg.SiteUnreachable)
	override(retry.StageGenerate, domain.KindAutomationTimeout, cfg.AutomationTimeout)
	override(retry.StageGenerate, domain.KindGenerationTimeout, cfg.GenerationTimeout)
	override(retry.StageDeliver, domain.KindTransientSend, cfg.TransientSend)

	return policy
}
