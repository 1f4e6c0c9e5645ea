package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"questline/adapters/jsonfile"
	mem "questline/adapters/memory"
	redisAdapter "questline/adapters/redis"
	sqlxAdapter "questline/adapters/sqlx"
	"questline/analytics"
	"questline/api/httpapi"
	"questline/catalog"
	"questline/config"
	"questline/core"
	"questline/engine"
	"questline/integrations/webhook"
	"questline/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Hub       *realtime.Hub
	Bus       *engine.EventBus
	Service   *engine.ProgressionService
	Collector *analytics.Collector
	Progress  *analytics.ProgressMetrics
	Webhooks  *webhook.Sink
	Handler   http.Handler
	Server    *http.Server
	Metrics   *MetricsServer
}

// MetricsServer serves Prometheus metrics on their own listener. Server is nil
// when metrics are disabled.
type MetricsServer struct {
	Server *http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	var (
		cfg *config.Config
		err error
	)
	if profile := os.Getenv(config.EnvPrefix + "_PROFILE"); profile != "" {
		cfg, err = config.LoadProfile(profile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (engine.Store, func(), error) {
	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Error("closing storage", "error", err)
			}
		}
	}
	return store, cleanup, nil
}

func provideCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	return catalog.Load(cfg.Catalog.Path)
}

func provideEventBus(cfg *config.Config) (*engine.EventBus, func()) {
	mode := engine.DispatchSync
	if cfg.Engine.AsyncEvents {
		mode = engine.DispatchAsync
	}
	bus := engine.NewEventBus(mode)
	return bus, bus.Close
}

func provideProgressMetrics() *analytics.ProgressMetrics {
	return analytics.NewProgressMetrics()
}

func provideCollector(cfg *config.Config, bus *engine.EventBus, hub *realtime.Hub) *analytics.Collector {
	opts := []analytics.CollectorOption{
		analytics.WithGaugeFunc("events_dropped", "Events dropped by the async event bus.", func() float64 {
			return float64(bus.Dropped())
		}),
		analytics.WithGaugeFunc("websocket_subscribers", "Connected realtime subscribers.", func() float64 {
			return float64(hub.Subscribers())
		}),
		analytics.WithGaugeFunc("websocket_dropped", "Events dropped for slow realtime subscribers.", func() float64 {
			return float64(hub.Dropped())
		}),
	}
	if cfg.Metrics.CollectSystem {
		opts = append(opts, analytics.WithRuntimeCollectors())
	}
	return analytics.NewCollector(opts...)
}

func provideWebhooks(cfg *config.Config, log *slog.Logger) *webhook.Sink {
	if len(cfg.Integrations.WebhookURLs) == 0 {
		return nil
	}
	types := make([]core.EventType, 0, len(cfg.Integrations.WebhookEvents))
	for _, t := range cfg.Integrations.WebhookEvents {
		types = append(types, core.EventType(t))
	}
	return webhook.New(cfg.Integrations.WebhookURLs,
		webhook.WithTimeout(cfg.Integrations.WebhookTimeout),
		webhook.WithEventTypes(types...),
		webhook.WithLogger(log),
	)
}

func provideService(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	store engine.Store,
	cat *catalog.Catalog,
	bus *engine.EventBus,
	hub *realtime.Hub,
	collector *analytics.Collector,
	progress *analytics.ProgressMetrics,
	hooks *webhook.Sink,
) (*engine.ProgressionService, error) {
	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}
	if cfg.Catalog.SeedOnStart {
		st, err := cat.Seed(ctx, store, log)
		if err != nil {
			return nil, err
		}
		log.Info("catalog seeded", "quests", st.Quests, "badges", st.Badges, "profiles_created", st.ProfilesCreated)
	}

	bus.SubscribeAll(hub.Broadcast)
	bus.SubscribeAll(analytics.Handler(analytics.NewBridge(log, collector, progress)))
	if hooks != nil {
		bus.SubscribeAll(hooks.Handle)
	}

	return engine.NewProgressionService(store, bus,
		engine.WithLogger(log),
		engine.WithLocation(loc),
		engine.WithLeaderboardLimits(cfg.Engine.LeaderboardDefaultLimit, cfg.Engine.LeaderboardMaxLimit),
		engine.WithRuleCacheSize(cfg.Engine.RuleCacheSize),
	), nil
}

func provideHandler(svc *engine.ProgressionService, hub *realtime.Hub, store engine.Store, collector *analytics.Collector, log *slog.Logger, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		Seeder:           store,
		Logger:           log,
		Metrics:          collector,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config, collector *analytics.Collector) *MetricsServer {
	if !cfg.Metrics.Enabled {
		return &MetricsServer{}
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, collector.Handler())
	return &MetricsServer{Server: &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter named by configuration.
func setupStorage(ctx context.Context, cfg *config.Config) (engine.Store, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "file":
		return jsonfile.New(cfg.Storage.File.Path)
	case "redis":
		return redisAdapter.New(cfg.Storage.Redis.Adapter())
	case "sql":
		return sqlxAdapter.New(ctx, cfg.Storage.SQL.Adapter())
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
