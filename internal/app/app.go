package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"PMCopilot/internal/config"
	"PMCopilot/internal/domain"
	"PMCopilot/internal/infrastructure/broker"
	"PMCopilot/internal/infrastructure/cache"
	"PMCopilot/internal/infrastructure/httpserver"
	"PMCopilot/internal/infrastructure/llm"
	"PMCopilot/internal/infrastructure/metrics"
	"PMCopilot/internal/infrastructure/ml"
	"PMCopilot/internal/infrastructure/notify"
	"PMCopilot/internal/infrastructure/realtime"
	"PMCopilot/internal/infrastructure/scheduler"
	"PMCopilot/internal/infrastructure/storage"
	"PMCopilot/internal/infrastructure/telegram"
	"PMCopilot/internal/logging"
	"PMCopilot/internal/normalizer"
	"PMCopilot/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db       *sql.DB
	cache    *cache.BadgerCache
	hub      *realtime.Hub
	kafka    *broker.KafkaPublisher
	registry *prometheus.Registry

	Coordinator *usecase.Coordinator
	Fleet       *usecase.FleetRefresher
	Scheduler   *usecase.Scheduler
	Queries     *usecase.Queries
}

// New opens storage and cache and builds every use case.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{cfg: cfg, logger: baseLogger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := metrics.New(a.registry)

	db, err := storage.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	a.db = db
	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
	}
	repo := storage.NewPostgresRepository(db)

	fastCache, err := cache.Open(cfg.Cache.Path, baseLogger.With("component", "cache"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = fastCache

	generator, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("text generator: %w", err)
	}
	if generator == nil {
		baseLogger.Info("no text generator configured, tickets use the template")
	}

	a.hub = realtime.NewHub(baseLogger)
	fanout := notify.NewFanout().Add("websocket", a.hub)
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		fanout.Add("telegram", telegram.NewNotifier(tg.BotToken, tg.ChatID))
	}
	if k := cfg.Notifications.Kafka; len(k.Brokers) > 0 {
		a.kafka = broker.NewKafkaPublisher(k.Brokers, k.Topic, baseLogger)
		fanout.Add("kafka", a.kafka)
	}

	predictor := ml.NewClient(cfg.ML.BaseURL, cfg.ML.APIKey, cfg.ML.Timeout, promMetrics)
	tickets := usecase.NewTicketing(repo, generator, baseLogger.With("component", "ticketing"))
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Normalizer: normalizer.New(normalizer.WithBaselines(baselines(cfg.Risk))),
		Gateway:    usecase.NewGateway(repo, tickets),
		Tickets:    tickets,
		Notifier:   fanout,
		Metrics:    promMetrics,
		Logger:     baseLogger.With("component", "pipeline"),
	})

	a.Coordinator = usecase.NewCoordinator(usecase.CoordinatorDeps{
		Cache:     fastCache,
		Predictor: predictor,
		Pipeline:  pipeline,
		TTL:       cfg.Cache.TTL,
		Metrics:   promMetrics,
		Logger:    baseLogger.With("component", "coordinator"),
	})
	a.Fleet = usecase.NewFleetRefresher(usecase.FleetDeps{
		Predictor: predictor,
		Pipeline:  pipeline,
		Cache:     fastCache,
		TTL:       cfg.Cache.TTL,
		ItemDelay: cfg.Scheduler.ItemDelay,
		Metrics:   promMetrics,
		Logger:    baseLogger.With("component", "fleet"),
	})
	a.Scheduler = usecase.NewScheduler(
		scheduler.NewCronScheduler(),
		a.Fleet,
		fanout,
		baseLogger.With("component", "scheduler"),
	)
	a.Queries = usecase.NewQueries(repo)
	return a, nil
}

// Serve exposes the operational HTTP surface, starts the scheduler when
// configured and blocks until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	if a.cfg.Scheduler.AutoStart {
		if err := a.Scheduler.Start(a.cfg.Scheduler.Interval); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		go func() {
			if _, err := a.Scheduler.TriggerOnce(ctx); err != nil && !errors.Is(err, usecase.ErrRunInProgress) {
				a.logger.Warn("initial fleet refresh failed", "error", err)
			}
		}()
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Realtime:  a.hub,
		Gatherer:  a.registry,
		Health:    a.db.PingContext,
		Scheduler: func() any { return a.Scheduler.Status() },
		AccessLog: os.Stdout,
		Logger:    a.logger.With("component", "http"),
	})
	srv := httpserver.New(a.cfg.HTTP.Addr, router, a.logger.With("component", "http"))
	errc := srv.Start()

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errc:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	return serveErr
}

// Refresh performs one fleet refresh through the scheduler's exclusion guard.
func (a *Application) Refresh(ctx context.Context) (domain.RunSummary, error) {
	return a.Scheduler.TriggerOnce(ctx)
}

// Close releases every opened resource.
func (a *Application) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("kafka close", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close", "error", err)
		}
	}
}

// Migrate applies the embedded schema without building the rest of the application.
func Migrate(ctx context.Context, cfg config.Config) error {
	db, err := storage.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()
	return storage.Migrate(ctx, db)
}

func baselines(cfg config.RiskConfig) normalizer.Baselines {
	out := normalizer.DefaultBaselines()
	for machineType, b := range cfg.Baselines {
		out[strings.ToUpper(machineType)] = normalizer.Baseline{
			TempDangerDelta:  b.TempDangerDelta,
			ExpectedToolLife: b.ExpectedToolLife,
			MaxTorque:        b.MaxTorque,
			MaxRPM:           b.MaxRPM,
		}
	}
	return out
}
