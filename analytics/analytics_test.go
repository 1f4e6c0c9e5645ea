package analytics

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questline/core"
)

func sampleEvents(now time.Time) []core.Event {
	reward := core.SpinReward{Type: core.RewardXP, Value: 10}
	return []core.Event{
		core.NewQuestCompleted(now, "alice", core.Quest{ID: "sauna", Category: core.CategoryCultural}),
		core.NewXPGained(now, "alice", 15, 105),
		core.NewPointsAwarded(now, "alice", 20, 30),
		core.NewLevelUp(now, "alice", 2),
		core.NewBadgeUnlocked(now, "alice", core.Badge{ID: "first", Rarity: core.RarityCommon}),
		core.NewBadgeUnlocked(now, "bob", core.Badge{ID: "first", Rarity: core.RarityCommon}),
		core.NewDailySpin(now, "bob", reward, core.DateOf(now, nil)),
	}
}

func TestProgressMetrics_Summarize(t *testing.T) {
	pm := NewProgressMetrics()
	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	for _, e := range sampleEvents(now) {
		pm.OnEvent(e)
	}

	s := pm.Summarize("2024-05-06", 5)
	assert.Equal(t, 2, s.ActiveUsers)
	assert.Equal(t, int64(15), s.XPAwarded)
	assert.Equal(t, int64(20), s.PointsAwarded)
	assert.Equal(t, int64(1), s.QuestsCompleted)
	assert.Equal(t, int64(2), s.BadgesUnlocked)
	assert.Equal(t, int64(1), s.LevelsReached)
	assert.Equal(t, int64(1), s.Spins)
	assert.Equal(t, int64(1), s.QuestsByCategory[core.CategoryCultural])
	assert.Equal(t, int64(2), s.BadgesByRarity[core.RarityCommon])
	assert.Equal(t, int64(1), s.SpinsByReward[core.RewardXP])
	assert.Equal(t, 1, s.LevelDistribution[2])
	require.Len(t, s.TopBadgesByHolders, 1)
	assert.Equal(t, BadgeHolders{Badge: "first", Holders: 2}, s.TopBadgesByHolders[0])

	assert.Equal(t, 2, pm.WeeklyActiveUsers("2024-W19"))
	assert.Equal(t, 2, pm.MonthlyActiveUsers("2024-05"))
	assert.Equal(t, 0, pm.DailyActiveUsers("2024-05-07"))

	empty := pm.Summarize("2023-01-01", 0)
	assert.Zero(t, empty.ActiveUsers)
}

func TestDAUAndBridge(t *testing.T) {
	dau := NewDAU()
	pm := NewProgressMetrics()
	h := Handler(NewBridge(slog.New(slog.NewTextHandler(io.Discard, nil)), dau, nil, pm))

	now := time.Date(2024, 5, 6, 23, 59, 0, 0, time.UTC)
	h(context.Background(), core.NewLevelUp(now, "alice", 2))
	h(context.Background(), core.NewLevelUp(now, "alice", 3))
	h(context.Background(), core.NewLevelUp(now, "bob", 2))

	assert.Equal(t, 2, dau.Count("2024-05-06"))
	assert.Equal(t, int64(3), pm.Summarize("2024-05-06", 0).LevelsReached)
}

type panicHook struct{}

func (panicHook) OnEvent(core.Event) { panic("broken sink") }

func TestBridgeIsolatesPanickingHook(t *testing.T) {
	var buf bytes.Buffer
	dau := NewDAU()
	b := NewBridge(slog.New(slog.NewJSONHandler(&buf, nil)), panicHook{}, dau)

	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	require.NotPanics(t, func() { b.OnEvent(core.NewLevelUp(now, "alice", 2)) })
	assert.Equal(t, 1, dau.Count("2024-05-06"))
	assert.Contains(t, buf.String(), `"msg":"analytics hook panicked"`)
	assert.Contains(t, buf.String(), `"event":"level_up"`)
	assert.Contains(t, buf.String(), `"hook":"analytics.panicHook"`)
}

func TestCollector_CountsEvents(t *testing.T) {
	var dropped float64 = 3
	c := NewCollector(WithGaugeFunc("event_bus_dropped", "Events dropped", func() float64 { return dropped }))
	for _, e := range sampleEvents(time.Now()) {
		c.OnEvent(e)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(c.questsCompleted.WithLabelValues("cultural")))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.xpAwarded))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.pointsAwarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.levelUps))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.badgesUnlocked.WithLabelValues("common")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.spins.WithLabelValues("xp")))

	c.ObserveRequest(http.MethodGet, 200, 15*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "200")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "questline_event_bus_dropped 3"))
	assert.True(t, strings.Contains(body, "questline_xp_awarded_total 15"))
}
