package analytics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"questline/core"
)

const namespace = "questline"

// Collector exports progression events and HTTP traffic as Prometheus
// metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	questsCompleted *prometheus.CounterVec
	xpAwarded       prometheus.Counter
	pointsAwarded   prometheus.Counter
	levelUps        prometheus.Counter
	badgesUnlocked  *prometheus.CounterVec
	spins           *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// CollectorOption registers extra gauges backed by live values.
type CollectorOption func(*Collector)

// WithGaugeFunc exports fn as a gauge named questline_<name>.
func WithGaugeFunc(name, help string, fn func() float64) CollectorOption {
	return func(c *Collector) {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, fn))
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() CollectorOption {
	return func(c *Collector) {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		questsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quests_completed_total",
			Help:      "Quest completions applied, by category",
		}, []string{"category"}),
		xpAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "Experience points awarded",
		}),
		pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Leaderboard points awarded",
		}),
		levelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Level transitions",
		}),
		badgesUnlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badges_unlocked_total",
			Help:      "Badges unlocked, by rarity",
		}, []string{"rarity"}),
		spins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_spins_total",
			Help:      "Daily spins, by reward type",
		}, []string{"reward"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
	}
	c.registry.MustRegister(
		c.questsCompleted, c.xpAwarded, c.pointsAwarded, c.levelUps,
		c.badgesUnlocked, c.spins, c.httpRequests, c.httpDuration,
	)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) OnEvent(e core.Event) {
	switch e.Type {
	case core.EventQuestCompleted:
		cat, _ := e.Metadata["category"].(string)
		c.questsCompleted.WithLabelValues(cat).Inc()
	case core.EventXPGained:
		c.xpAwarded.Add(float64(e.Delta))
	case core.EventPointsAwarded:
		c.pointsAwarded.Add(float64(e.Delta))
	case core.EventLevelUp:
		c.levelUps.Inc()
	case core.EventBadgeUnlocked:
		if e.Badge != nil {
			c.badgesUnlocked.WithLabelValues(string(e.Badge.Rarity)).Inc()
		}
	case core.EventDailySpin:
		if e.Reward != nil {
			c.spins.WithLabelValues(string(e.Reward.Type)).Inc()
		}
	}
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(method string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
