// Package runtime assembles an agent from its parts: the store, the
// model router, the capability registry, the composer, the pipeline,
// the task queue, and the autonomy loop. It owns startup order and
// shutdown order; everything else owns exactly one concern.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"reverie/internal/autonomy"
	"reverie/internal/bootstrap"
	"reverie/internal/composer"
	"reverie/internal/config"
	"reverie/internal/embedding"
	"reverie/internal/logging"
	"reverie/internal/model"
	"reverie/internal/pipeline"
	"reverie/internal/plugin"
	"reverie/internal/registry"
	"reverie/internal/store"
	"reverie/internal/tasks"
	"reverie/internal/types"
	"reverie/internal/vector"
)

// Agent is one fully wired agent instance. It satisfies plugin.Runtime,
// so capabilities see the same surface whether they run in the pipeline,
// the task queue, or a background service.
type Agent struct {
	cfg  *config.Config
	card types.AgentCard

	store    *store.Store
	queue    *tasks.Queue
	router   *model.Router
	reg      *registry.Registry
	comp     *composer.Composer
	pipe     *pipeline.Pipeline
	loop     *autonomy.Loop
	settings plugin.Settings

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	running []plugin.Service // services started, in start order
}

var _ plugin.Runtime = (*Agent)(nil)

// New wires an agent from config. Nothing is running yet; call Start to
// bring up services and the autonomy loop, or use Process directly for
// one-shot work.
func New(cfg *config.Config) (*Agent, error) {
	card, err := config.LoadAgentCard(cfg.AgentFile)
	if err != nil {
		return nil, err
	}
	logging.Boot("Agent %q (%s)", card.Name, card.ID)

	engine, err := buildEngine(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.Options{
		DBPath:      cfg.Store.DatabasePath,
		IndexPath:   cfg.Vector.SnapshotPath,
		DedupWindow: cfg.GetDedupWindow(),
		QueryLimit:  cfg.Store.QueryLimit,
		BusyTimeout: cfg.Store.BusyTimeout,
		Engine:      engine,
		Index: vector.Options{
			Metric:      vector.Metric(cfg.Vector.Metric),
			MaxDegree:   cfg.Vector.MaxDegree,
			SearchWidth: cfg.Vector.SearchWidth,
		},
	})
	if err != nil {
		return nil, err
	}

	router, err := buildRouter(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	reg := registry.New()
	if err := bootstrap.Register(reg, bootstrap.Options{}); err != nil {
		st.Close()
		return nil, err
	}
	if cfg.SettingsFile != "" {
		err := reg.Register(registry.Registration{
			Kind: plugin.KindService,
			Name: "settingsWatcher",
			Impl: autonomy.NewSettingsWatcher(cfg.SettingsFile),
		})
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	a := &Agent{
		cfg:    cfg,
		card:   *card,
		store:  st,
		queue:  tasks.NewQueue(st),
		router: router,
		reg:    reg,
	}
	a.settings = storeSettings{st: st}
	a.queue.BindRuntime(a)

	// Registered workers become dispatchable. Anything a plugin adds to
	// the registry later must go through RegisterWorker itself.
	for _, name := range reg.List(plugin.KindWorker) {
		w, err := reg.Worker(name)
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := a.queue.RegisterWorker(w); err != nil {
			st.Close()
			return nil, err
		}
	}

	a.comp = composer.New(reg, bootstrap.DefaultProviders())
	a.pipe = pipeline.New(a, reg, a.comp, pipeline.Config{
		Workers:    cfg.Pipeline.Workers,
		QueueDepth: cfg.Pipeline.LaneDepth,
	})
	a.loop = autonomy.New(a, a.pipe, autonomy.Config{
		Enabled:      cfg.Autonomy.Enabled,
		Interval:     cfg.GetAutonomyInterval(),
		PollInterval: cfg.GetSettingsPoll(),
		RoomName:     cfg.Autonomy.RoomName,
	})

	logging.Boot("Runtime wired: %d capabilities, monologue room %s", reg.Len(), a.loop.RoomID())
	return a, nil
}

// buildEngine constructs the configured embedding engine, or nil when
// embeddings are disabled.
func buildEngine(cfg config.EmbeddingConfig) (embedding.Engine, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}
	return embedding.NewEngine(embedding.Config{
		Provider:       cfg.Provider,
		OllamaEndpoint: cfg.OllamaEndpoint,
		OllamaModel:    cfg.OllamaModel,
		GenAIAPIKey:    cfg.GenAIAPIKey,
		GenAIModel:     cfg.GenAIModel,
		CacheSize:      cfg.CacheSize,
	})
}

// buildRouter binds one client per tier under the shared timeout and
// retry policy.
func buildRouter(cfg *config.Config) (*model.Router, error) {
	router := model.NewRouter(cfg.GetModelTimeout(), cfg.Model.MaxRetries)
	for _, binding := range []struct {
		tier types.ModelTier
		ep   config.ModelEndpoint
	}{
		{types.TierSmallFast, cfg.Model.Fast},
		{types.TierLargeDeliberate, cfg.Model.Deliberate},
	} {
		client, err := model.NewClient(model.EndpointConfig{
			Provider: binding.ep.Provider,
			Model:    binding.ep.Model,
			APIKey:   binding.ep.APIKey,
			BaseURL:  binding.ep.BaseURL,
			Timeout:  cfg.GetModelTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("%s endpoint: %w", binding.tier, err)
		}
		router.Bind(binding.tier, client)
	}
	return router, nil
}

// =============================================================================
// CAPABILITY-FACING SURFACE
// =============================================================================

func (a *Agent) Agent() types.AgentCard    { return a.card }
func (a *Agent) Memory() plugin.Memory     { return a.store }
func (a *Agent) Tasks() plugin.Tasks       { return a.queue }
func (a *Agent) Model() plugin.Model       { return a.router }
func (a *Agent) Settings() plugin.Settings { return a.settings }

// Registry exposes the capability table, mainly for diagnostics.
func (a *Agent) Registry() *registry.Registry { return a.reg }

// Loop exposes the autonomy loop, mainly for status output.
func (a *Agent) Loop() *autonomy.Loop { return a.loop }

// Store exposes the persistence layer for callers outside the plugin
// surface (the CLI, tests).
func (a *Agent) Store() *store.Store { return a.store }

// Process runs one inbound event through the pipeline and blocks for
// its outcome. Usable with or without Start.
func (a *Agent) Process(ctx context.Context, ev *types.Event) (*pipeline.Outcome, error) {
	return a.pipe.Process(ctx, ev)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start seeds first-boot settings, starts registered services in
// declaration order, and hands the autonomy loop its lifetime context.
// Returns once everything is up; the loop runs until Stop.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("runtime: already started")
	}

	if err := a.seedSettings(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, svc := range a.reg.Services() {
		if err := svc.Start(runCtx, a); err != nil {
			a.stopServices(ctx)
			cancel()
			return fmt.Errorf("service %s failed to start: %w", svc.Name(), err)
		}
		a.running = append(a.running, svc)
		logging.Boot("Service %s started", svc.Name())
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.loop.Run(gctx) })

	a.cancel = cancel
	a.group = g
	a.started = true
	logging.Boot("Agent running")
	return nil
}

// Stop unwinds Start: the loop finishes its in-flight cycle, services
// stop in reverse order, the pipeline drains, and the store closes with
// a fresh index snapshot. Safe to call on a never-started agent.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.group != nil {
		if err := a.group.Wait(); err != nil {
			logging.Get(logging.CategoryBoot).Warn("Background loop exited with error: %v", err)
		}
		a.group = nil
	}

	a.stopServices(ctx)
	a.pipe.Close()

	err := a.store.Close()
	a.started = false
	logging.Boot("Agent stopped")
	return err
}

// stopServices stops started services in reverse order. Callers hold a.mu.
func (a *Agent) stopServices(ctx context.Context) {
	for i := len(a.running) - 1; i >= 0; i-- {
		svc := a.running[i]
		if err := svc.Stop(ctx); err != nil {
			logging.Get(logging.CategoryBoot).Warn("Service %s failed to stop: %v", svc.Name(), err)
		}
	}
	a.running = nil
}

// seedSettings writes the card's settings for keys not already
// persisted. Existing values always win; the card only fills gaps.
func (a *Agent) seedSettings(ctx context.Context) error {
	if len(a.card.Settings) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.card.Settings))
	for k := range a.card.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seeded := 0
	for _, k := range keys {
		_, ok, err := a.settings.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("failed to read setting %s: %w", k, err)
		}
		if ok {
			continue
		}
		if err := a.settings.Set(ctx, k, a.card.Settings[k]); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", k, err)
		}
		seeded++
	}
	if seeded > 0 {
		logging.Boot("Seeded %d setting(s) from the agent card", seeded)
	}
	return nil
}
