// Package app assembles the service's components from configuration. Both
// binaries build on it.
package app

import (
	"context"
	"fmt"

	"vos/internal/activities"
	"vos/internal/api"
	"vos/internal/cache"
	"vos/internal/config"
	"vos/internal/personas"
	"vos/internal/providers"
	"vos/internal/review"
	"vos/internal/storage"
	"vos/internal/synthesis"

	"github.com/rs/zerolog"
	tclient "go.temporal.io/sdk/client"
)

type App struct {
	Config       config.Config
	Log          zerolog.Logger
	Store        storage.Store
	Personas     *personas.Registry
	Providers    *providers.Manager
	Orchestrator *review.Orchestrator
	Synthesis    *synthesis.Engine
	Activities   *activities.Activities
	// Temporal is nil unless cfg.TemporalEnabled.
	Temporal tclient.Client

	redis *cache.RedisLocker
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Personas, err = loadPersonas(cfg.PersonasFile)
	if err != nil {
		return nil, err
	}
	a.Store, err = storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Providers, err = providers.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	var locker cache.Locker = cache.NewMemoryLocker()
	if cfg.RedisURL != "" {
		a.redis, err = cache.NewRedisLocker(ctx, cfg.RedisURL, "vos:")
		if err != nil {
			return nil, err
		}
		locker = a.redis
	}

	client := review.NewClient(a.Providers, a.Store, log, cfg.ReviewMaxTokens)
	a.Orchestrator = review.NewOrchestrator(a.Store, a.Personas, client, log, review.Options{
		PersonaTimeout: cfg.PersonaTimeout,
		MaxConcurrent:  cfg.MaxConcurrentPersonas,
		EventBuffer:    cfg.EventBuffer,
	})
	judge := synthesis.NewModelJudge(a.Providers, a.Store, log, cfg.SynthesisMaxTokens)
	a.Synthesis = synthesis.NewEngine(a.Store, judge, locker, log, synthesis.Options{
		Proximity: cfg.SynthesisProximity,
		Threshold: cfg.SynthesisThreshold,
		Fallback:  cfg.SynthesisFallback,
		Timeout:   cfg.SynthesisTimeout,
		LockTTL:   cfg.SynthesisLockTTL,
	})
	a.Activities = activities.New(a.Store, a.Personas, a.Orchestrator, a.Synthesis, log)

	if cfg.TemporalEnabled {
		a.Temporal, err = tclient.Dial(tclient.Options{
			HostPort: cfg.TemporalAddress,
			Logger:   newTemporalLogger(log),
		})
		if err != nil {
			return nil, fmt.Errorf("dial temporal %s: %w", cfg.TemporalAddress, err)
		}
	}

	log.Info().
		Str("store", cfg.StoreDriver).
		Str("llm_providers", cfg.LLMProviders).
		Int("personas", len(a.Personas.IDs())).
		Bool("redis", a.redis != nil).
		Bool("temporal", a.Temporal != nil).
		Msg("app assembled")
	return a, nil
}

// APIServer returns the HTTP layer over the assembled components.
func (a *App) APIServer() *api.Server {
	deps := api.Deps{
		Store:        a.Store,
		Personas:     a.Personas,
		Orchestrator: a.Orchestrator,
		Synthesis:    a.Synthesis,
		Providers:    a.Providers,
		Temporal:     a.Temporal,
	}
	if a.redis != nil {
		deps.Redis = a.redis
	}
	return api.NewServer(a.Config, a.Log, deps)
}

// Shutdown waits for in-flight streamed reviews and then releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	var waitErr error
	if a.Orchestrator != nil {
		waitErr = a.Orchestrator.Wait(ctx)
	}
	a.Close()
	return waitErr
}

func (a *App) Close() {
	if a.Temporal != nil {
		a.Temporal.Close()
		a.Temporal = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("close redis")
		}
		a.redis = nil
	}
	if a.Store != nil {
		a.Store.Close()
		a.Store = nil
	}
}

func loadPersonas(path string) (*personas.Registry, error) {
	if path == "" {
		return personas.Default()
	}
	reg, err := personas.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load personas %s: %w", path, err)
	}
	return reg, nil
}
