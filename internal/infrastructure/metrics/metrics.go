// Package metrics provides progression metrics collection.
// It wraps Prometheus collectors for XP awards, level-ups, streaks,
// achievement grants and the activity-completed flow itself.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// Collector provides progression metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Award metrics
	xpAwards   *prometheus.CounterVec
	xpAmount   *prometheus.CounterVec
	levelUps   prometheus.Counter
	levelReach *prometheus.CounterVec

	// Streak metrics
	streakLength  prometheus.Histogram
	streakCrosses prometheus.Counter

	// Achievement metrics
	achievementGrants *prometheus.CounterVec

	// Flow metrics
	flowTotal    *prometheus.CounterVec
	flowLatency  *prometheus.HistogramVec
	flowPartials *prometheus.CounterVec
}

// NewCollector creates a new progression metrics collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "progression"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.xpAwards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "xp",
			Name:      "awards_total",
			Help:      "Total number of persisted XP awards",
		},
		[]string{"reason"},
	)

	c.xpAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "xp",
			Name:      "awarded_total",
			Help:      "Total XP awarded",
		},
		[]string{"reason"},
	)

	c.levelUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "level",
			Name:      "ups_total",
			Help:      "Total number of flows that ended on a higher level",
		},
	)

	c.levelReach = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "level",
			Name:      "reached_total",
			Help:      "Number of level-ups by the level name reached",
		},
		[]string{"level_name"},
	)

	c.streakLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "streak",
			Name:      "length_days",
			Help:      "Current streak observed after each completed activity",
			Buckets:   []float64{1, 2, 3, 5, 7, 14, 30, 60, 100, 365},
		},
	)

	c.streakCrosses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streak",
			Name:      "tier_crossings_total",
			Help:      "Number of streak tiers crossed",
		},
	)

	c.achievementGrants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "achievement",
			Name:      "grants_total",
			Help:      "Total number of newly created achievement grants",
		},
		[]string{"code", "rarity"},
	)

	c.flowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "runs_total",
			Help:      "Total number of activity-completed flows",
		},
		[]string{"result"},
	)

	c.flowLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "duration_seconds",
			Help:      "Duration of the activity-completed flow",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"result"},
	)

	c.flowPartials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "partial_failures_total",
			Help:      "Steps that failed after the base award was persisted",
		},
		[]string{"stage"},
	)

	c.registry.MustRegister(
		c.xpAwards,
		c.xpAmount,
		c.levelUps,
		c.levelReach,
		c.streakLength,
		c.streakCrosses,
		c.achievementGrants,
		c.flowTotal,
		c.flowLatency,
		c.flowPartials,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ─────────────────────────────────────────────────────────────────────────────
// Direct recording
// ─────────────────────────────────────────────────────────────────────────────

// RecordFlow records a finished activity-completed flow.
func (c *Collector) RecordFlow(duration time.Duration, err error) {
	result := resultLabel(err)
	c.flowTotal.WithLabelValues(result).Inc()
	c.flowLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordPartialFailure records a non-fatal step failure ("streak", "achievements").
func (c *Collector) RecordPartialFailure(stage string) {
	c.flowPartials.WithLabelValues(stage).Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// Event subscription
// ─────────────────────────────────────────────────────────────────────────────

// Attach subscribes the collector to every progression event on the bus.
func (c *Collector) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(c.HandleEvent)
}

// HandleEvent implements shared.EventHandler.
func (c *Collector) HandleEvent(event shared.Event) error {
	switch e := event.(type) {
	case shared.XPAwardedEvent:
		reason := ReasonLabel(e.Reason)
		c.xpAwards.WithLabelValues(reason).Inc()
		c.xpAmount.WithLabelValues(reason).Add(float64(e.Amount))
	case shared.LevelUpEvent:
		c.levelUps.Inc()
		c.levelReach.WithLabelValues(e.LevelName).Inc()
	case shared.StreakUpdatedEvent:
		c.streakLength.Observe(float64(e.CurrentStreak))
		if e.TierCrossed {
			c.streakCrosses.Inc()
		}
	case shared.AchievementGrantedEvent:
		c.achievementGrants.WithLabelValues(e.Code, e.Rarity).Inc()
	}
	return nil
}

// ReasonLabel collapses per-achievement reasons into one label value
// so the reason label stays low-cardinality.
func ReasonLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	if reason == "" {
		return "unknown"
	}
	return reason
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	switch {
	case shared.IsValidation(err):
		return "invalid"
	case shared.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
