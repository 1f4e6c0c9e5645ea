package gamify

import (
	"context"
	"fmt"
	"log/slog"

	mem "questline/adapters/memory"
	"questline/catalog"
	"questline/core"
	"questline/engine"
	"questline/realtime"
)

// Option configures the progression service builder.
type Option func(*config)

type config struct {
	storage engine.Storage
	mode    engine.DispatchMode
	hub     *realtime.Hub
	log     *slog.Logger
	catalog *catalog.Catalog
	engine  []engine.Option
	hooks   []func(context.Context, core.Event)
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLogger sets the logger used by the engine.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

// WithCatalog seeds quests, badges and profiles into the storage on build.
// The storage must implement engine.Seeder.
func WithCatalog(cat *catalog.Catalog) Option { return func(c *config) { c.catalog = cat } }

// WithEngineOptions passes options straight to engine.NewProgressionService.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *config) { c.engine = append(c.engine, opts...) }
}

// WithEventHook subscribes h to every engine event.
func WithEventHook(h func(context.Context, core.Event)) Option {
	return func(c *config) { c.hooks = append(c.hooks, h) }
}

// New builds a configured ProgressionService. If not provided, defaults are used:
//   - storage: in-memory, seeded with the embedded default catalog
//   - dispatch: async
//   - logger: slog.Default()
func New(opts ...Option) (*engine.ProgressionService, error) {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
		if cfg.catalog == nil {
			cfg.catalog = catalog.Default()
		}
	}
	if cfg.catalog != nil {
		seeder, ok := cfg.storage.(engine.Seeder)
		if !ok {
			return nil, fmt.Errorf("gamify: storage %T cannot be seeded", cfg.storage)
		}
		st, err := cfg.catalog.Seed(context.Background(), seeder, cfg.log)
		if err != nil {
			return nil, fmt.Errorf("gamify: %w", err)
		}
		cfg.log.Debug("catalog seeded", "quests", st.Quests, "badges", st.Badges, "profiles", st.ProfilesCreated)
	}

	bus := engine.NewEventBus(cfg.mode)
	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	for _, h := range cfg.hooks {
		bus.SubscribeAll(h)
	}
	eopts := append([]engine.Option{engine.WithLogger(cfg.log)}, cfg.engine...)
	return engine.NewProgressionService(cfg.storage, bus, eopts...), nil
}

// MustNew is New for callers that treat a build failure as fatal.
func MustNew(opts ...Option) *engine.ProgressionService {
	svc, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return svc
}
