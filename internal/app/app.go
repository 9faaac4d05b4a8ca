// Package app builds the workbench object graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jonathan/golden-record/internal/config"
	"github.com/jonathan/golden-record/internal/gateway"
	"github.com/jonathan/golden-record/internal/llm"
	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/persist"
	"github.com/jonathan/golden-record/internal/pipeline"
	"github.com/jonathan/golden-record/internal/samples"
	"github.com/jonathan/golden-record/internal/scheduler"
	"github.com/jonathan/golden-record/internal/server"
	"github.com/jonathan/golden-record/internal/store"
	"github.com/jonathan/golden-record/internal/types"
)

// Options override parts of the graph. Zero values build everything from config.
type Options struct {
	Logger     logger.Logger
	KV         persist.KV
	Gateway    pipeline.Gateway
	OnProgress pipeline.ProgressCallback
}

// App holds the wired components
type App struct {
	Config       *config.Config
	Log          logger.Logger
	Store        *store.Store
	KV           persist.KV
	Persister    *persist.Persister
	Gateway      pipeline.Gateway
	Orchestrator *pipeline.Orchestrator
	Scheduler    *scheduler.Scheduler
}

// New wires the application and restores persisted state. Configuration faults,
// including a missing API key, are reported here before any remote call.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		var err error
		log, err = logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	a := &App{Config: cfg, Log: log}

	gw := opts.Gateway
	if gw == nil {
		dialed, err := gateway.Dial(ctx, LLMConfig(cfg.Gemini), cfg.Gemini.APIKey, Timeouts(cfg.Pipeline.Timeouts), log)
		if err != nil {
			return nil, err
		}
		gw = dialed
	}
	a.Gateway = gw

	kv := opts.KV
	if kv == nil {
		opened, err := OpenKV(ctx, cfg.Storage)
		if err != nil {
			a.closeGateway()
			return nil, err
		}
		kv = opened
	}
	a.KV = kv

	a.Store = store.New(types.Mode(cfg.Pipeline.Mode))
	a.Persister = persist.New(kv, a.Store, log.With(map[string]interface{}{"component": "persist"}))
	if err := a.Persister.Load(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Orchestrator = pipeline.New(gw, a.Store, pipeline.Options{
		Logger:     log.With(map[string]interface{}{"component": "pipeline"}),
		OnProgress: opts.OnProgress,
	})
	a.Scheduler = scheduler.New(a.Store, a.Orchestrator, cfg.Pipeline.InterItemDelay,
		log.With(map[string]interface{}{"component": "scheduler"}))

	log.Info("workbench ready", map[string]interface{}{
		"mode":    string(a.Store.Mode()),
		"backend": cfg.Storage.Backend,
		"queue":   a.Store.Len(),
	})
	return a, nil
}

// Start begins mirroring store changes to the persistence backend
func (a *App) Start(ctx context.Context) {
	a.Persister.Start(ctx)
}

// Server builds the HTTP control surface. ctx bounds drains and retries started through it.
func (a *App) Server(ctx context.Context, gen *samples.Generator) *server.Server {
	return server.New(ctx, server.Deps{
		Store:     a.Store,
		Scheduler: a.Scheduler,
		Retrier:   a.Orchestrator,
		Samples:   gen,
		Logger:    a.Log,
		Server:    a.Config.Server,
		RateLimit: a.Config.RateLimit,
	})
}

// Close waits for in-flight work, flushes state and releases backends
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Wait()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	if a.Persister != nil {
		a.Persister.Stop()
	}

	var errs []error
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
	}
	if err := a.closeGateway(); err != nil {
		errs = append(errs, err)
	}
	// Sync fails on stdout/stderr on some platforms
	_ = a.Log.Sync()
	return errors.Join(errs...)
}

func (a *App) closeGateway() error {
	if c, ok := a.Gateway.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close gateway: %w", err)
		}
	}
	return nil
}

// OpenKV opens the configured persistence backend
func OpenKV(ctx context.Context, cfg config.StorageConfig) (persist.KV, error) {
	switch cfg.Backend {
	case "", "memory":
		return persist.NewMemoryKV(), nil
	case "redis":
		return persist.NewRedisKV(ctx, persist.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "sqlite":
		return persist.OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return persist.ConnectPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// LLMConfig applies model overrides to the default Gemini configuration
func LLMConfig(g config.GeminiConfig) *llm.Config {
	cfg := llm.DefaultGeminiConfig()
	if g.SummaryModel != "" {
		cfg = cfg.WithModel(llm.TierLite, g.SummaryModel)
	}
	if g.FastModel != "" {
		cfg = cfg.WithModel(llm.TierStandard, g.FastModel)
	}
	if g.DeepModel != "" {
		cfg = cfg.WithModel(llm.TierAdvanced, g.DeepModel)
	}
	return cfg
}

// Timeouts converts configured deadlines for the gateway
func Timeouts(t config.TimeoutsConfig) gateway.Timeouts {
	return gateway.Timeouts{
		Fast:      t.Fast,
		Deep:      t.Deep,
		Synthesis: t.Synthesis,
		Summary:   t.Summary,
	}
}
