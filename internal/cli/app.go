package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/internal/config"
	"github.com/duynguyendang/lexa/pkg/analysis"
	"github.com/duynguyendang/lexa/pkg/events"
	"github.com/duynguyendang/lexa/pkg/extract"
	"github.com/duynguyendang/lexa/pkg/llm"
	"github.com/duynguyendang/lexa/pkg/log"
	"github.com/duynguyendang/lexa/pkg/metrics"
	"github.com/duynguyendang/lexa/pkg/pipeline"
	"github.com/duynguyendang/lexa/pkg/session"
	"github.com/duynguyendang/lexa/pkg/storage"
)

// app holds the long-lived components shared by the commands.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	metrics   *metrics.Metrics
	store     session.Store
	artifacts storage.Store
	gemini    *llm.GeminiProvider
	engine    *analysis.Engine
	extractor *extract.DocumentExtractor
	bus       *events.Broadcaster
	pipeline  *pipeline.Orchestrator

	closers []func() error
}

func loadConfig(logOutputs ...string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	lvl, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger, err := log.InitLog(lvl, cfg.Log.Format, logOutputs...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newSessionStore(cfg *config.Config, logger *zap.Logger) (session.Store, error) {
	switch cfg.Session.Backend {
	case "sqlite":
		return session.NewSQLiteStore(cfg.Session.SQLitePath)
	default:
		return session.NewMemoryStore(cfg.Session.MaxSessions, session.WithLogger(logger.Named("session")))
	}
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Backend != "minio" {
		return storage.NewLocalStore(cfg.Storage.UploadDir)
	}
	m := cfg.Storage.Minio
	store, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Bucket:    m.Bucket,
		UseSSL:    m.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// newApp builds every component from cfg. The caller must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	a.store, err = newSessionStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.artifacts, err = newArtifactStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact storage: %w", err)
	}

	a.gemini, err = llm.NewGeminiProvider(ctx, cfg.AI.APIKey, cfg.AI.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	a.closers = append(a.closers, a.gemini.Close)

	provider := llm.WithMetrics(llm.WithTimeout(a.gemini, cfg.AI.Timeout), a.metrics)
	a.engine, err = analysis.NewEngine(provider, analysis.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a.extractor = extract.NewDocumentExtractor(logger)
	a.bus = events.NewBroadcaster(
		events.WithLogger(logger.Named("events")),
		events.WithDropHook(a.metrics.IncEventsDropped),
	)
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Store:     a.store,
		Events:    a.bus,
		Extractor: a.extractor,
		Analyzer:  a.engine,
		Artifacts: a.artifacts,
	}, pipeline.Config{
		ArtifactRetention: cfg.Pipeline.ArtifactRetention,
		SessionMaxAge:     cfg.Pipeline.SessionMaxAge,
		SweepInterval:     cfg.Pipeline.SweepInterval,
		MaxUploadSize:     cfg.Pipeline.MaxUploadSize,
		AutoAnalyze:       cfg.Pipeline.AutoAnalyze,
	}, pipeline.WithLogger(logger), pipeline.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// close releases resources in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("failed to close component", zap.Error(err))
		}
	}
	a.closers = nil
}
