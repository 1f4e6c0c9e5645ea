package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questline/adapters/jsonfile"
	mem "questline/adapters/memory"
	"questline/config"
)

func TestSetupStorage(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	store, err := setupStorage(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &mem.Store{}, store)

	cfg.Storage.Adapter = "file"
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "state.json")
	store, err = setupStorage(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &jsonfile.Store{}, store)

	cfg.Storage.Adapter = "tape"
	_, err = setupStorage(ctx, cfg)
	assert.ErrorContains(t, err, "unknown storage adapter")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}

func TestProvideMetricsServer(t *testing.T) {
	cfg := config.DefaultConfig()
	bus, closeBus := provideEventBus(cfg)
	defer closeBus()
	collector := provideCollector(cfg, bus, provideHub())

	assert.Nil(t, provideMetricsServer(cfg, collector).Server)

	cfg.Metrics.Enabled = true
	ms := provideMetricsServer(cfg, collector)
	require.NotNil(t, ms.Server)
	assert.Equal(t, ":9090", ms.Server.Addr)
}

func TestProvideWebhooksDisabledWithoutURLs(t *testing.T) {
	assert.Nil(t, provideWebhooks(config.DefaultConfig(), slog.Default()))
}

func TestAssembledServer(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Metrics.CollectSystem = false
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, cleanup, err := provideStorage(ctx, cfg, log)
	require.NoError(t, err)
	defer cleanup()
	bus, closeBus := provideEventBus(cfg)
	defer closeBus()
	hub := provideHub()
	collector := provideCollector(cfg, bus, hub)
	progress := provideProgressMetrics()
	cat, err := provideCatalog(cfg)
	require.NoError(t, err)

	svc, err := provideService(ctx, cfg, log, store, cat, bus, hub, collector, progress, provideWebhooks(cfg, log))
	require.NoError(t, err)

	srv := httptest.NewServer(provideHandler(svc, hub, store, collector, log, cfg))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/users/demo/quests/salmiakki/complete", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	summary := progress.Summarize(time.Now().UTC().Format("2006-01-02"), 5)
	assert.Equal(t, int64(1), summary.QuestsCompleted)
	assert.Equal(t, int64(1), summary.QuestsByCategory["food"])

	scrape := func() string {
		rec := httptest.NewRecorder()
		collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}
	body := scrape()
	assert.Contains(t, body, `questline_quests_completed_total{category="food"} 1`)
	assert.Contains(t, body, "questline_websocket_subscribers 0")
	// the request counter is recorded after the response is flushed
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(), `questline_http_requests_total{method="POST",status="200"} 1`)
	}, time.Second, 10*time.Millisecond)
}
