// Package observability exposes the agent's Prometheus collectors. Registries
// are lazily initialised singletons so any component can record without
// wiring, and every method tolerates a nil receiver.
package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AgentMetrics tracks the scan/decide/execute loop.
type AgentMetrics struct {
	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	scanDuration  prometheus.Histogram
	scanFailures  *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	executions    *prometheus.CounterVec
	poolNetApyBps *prometheus.GaugeVec
	poolTvlUsd    *prometheus.GaugeVec
}

var (
	agentMetricsOnce sync.Once
	agentRegistry    *AgentMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	controlMetricsOnce sync.Once
	controlRegistry    *ControlMetrics
)

// Agent returns the loop metrics registry.
func Agent() *AgentMetrics {
	agentMetricsOnce.Do(func() {
		agentRegistry = &AgentMetrics{
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "agent",
				Name:      "ticks_total",
				Help:      "Ticks segmented by outcome (success, failed, skipped).",
			}, []string{"outcome"}),
			tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "treasury",
				Subsystem: "agent",
				Name:      "tick_duration_seconds",
				Help:      "Wall-clock duration of complete ticks.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
			scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "treasury",
				Subsystem: "scanner",
				Name:      "scan_duration_seconds",
				Help:      "Duration of the pool scan fan-out.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			}),
			scanFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "scanner",
				Name:      "pool_failures_total",
				Help:      "Per-pool scan failures segmented by pool id.",
			}, []string{"pool"}),
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "engine",
				Name:      "decisions_total",
				Help:      "Decisions segmented by action and reason label.",
			}, []string{"action", "reason"}),
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "executor",
				Name:      "executions_total",
				Help:      "Execution attempts segmented by action and status.",
			}, []string{"action", "status"}),
			poolNetApyBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "treasury",
				Subsystem: "scanner",
				Name:      "pool_net_apy_bps",
				Help:      "Latest observed net APY per pool, in basis points.",
			}, []string{"pool"}),
			poolTvlUsd: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "treasury",
				Subsystem: "scanner",
				Name:      "pool_tvl_usd",
				Help:      "Latest observed TVL per pool, in USD.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			agentRegistry.ticks,
			agentRegistry.tickDuration,
			agentRegistry.scanDuration,
			agentRegistry.scanFailures,
			agentRegistry.decisions,
			agentRegistry.executions,
			agentRegistry.poolNetApyBps,
			agentRegistry.poolTvlUsd,
		)
	})
	return agentRegistry
}

// RecordTick counts a finished tick and its duration.
func (m *AgentMetrics) RecordTick(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(normalizeLabel(outcome)).Inc()
	if elapsed > 0 {
		m.tickDuration.Observe(elapsed.Seconds())
	}
}

// RecordSkippedTick counts a tick suppressed by the single-flight guard.
func (m *AgentMetrics) RecordSkippedTick() {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues("skipped").Inc()
}

// RecordScan captures the fan-out duration.
func (m *AgentMetrics) RecordScan(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(elapsed.Seconds())
}

// RecordPoolFailure counts one per-pool scan failure.
func (m *AgentMetrics) RecordPoolFailure(poolID string) {
	if m == nil {
		return
	}
	m.scanFailures.WithLabelValues(normalizeLabel(poolID)).Inc()
}

// RecordDecision counts one engine verdict.
func (m *AgentMetrics) RecordDecision(action, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(action), normalizeLabel(reason)).Inc()
}

// RecordExecution counts one executor attempt.
func (m *AgentMetrics) RecordExecution(action, status string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(normalizeLabel(action), normalizeLabel(status)).Inc()
}

// RecordPoolEconomics publishes the latest per-pool gauges.
func (m *AgentMetrics) RecordPoolEconomics(poolID string, netApyBps int, tvlUsd float64) {
	if m == nil {
		return
	}
	label := normalizeLabel(poolID)
	m.poolNetApyBps.WithLabelValues(label).Set(float64(netApyBps))
	m.poolTvlUsd.WithLabelValues(label).Set(tvlUsd)
}

// OracleMetrics tracks price and base-APY resolution.
type OracleMetrics struct {
	priceLookups *prometheus.CounterVec
	baseApy      *prometheus.CounterVec
}

// Oracle returns the oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			priceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "oracle",
				Name:      "price_lookups_total",
				Help:      "Price lookups segmented by path (fresh_cache, network, stale_fallback, stable_fallback, failure).",
			}, []string{"path"}),
			baseApy: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "oracle",
				Name:      "base_apy_resolutions_total",
				Help:      "Base-APY resolutions segmented by source and outcome.",
			}, []string{"source", "outcome"}),
		}
		prometheus.MustRegister(oracleRegistry.priceLookups, oracleRegistry.baseApy)
	})
	return oracleRegistry
}

// RecordPriceLookup counts one price resolution by path taken.
func (m *OracleMetrics) RecordPriceLookup(path string) {
	if m == nil {
		return
	}
	m.priceLookups.WithLabelValues(normalizeLabel(path)).Inc()
}

// RecordBaseApy counts one base-APY source resolution.
func (m *OracleMetrics) RecordBaseApy(source, outcome string) {
	if m == nil {
		return
	}
	m.baseApy.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// ControlMetrics tracks the operator surface and announcements.
type ControlMetrics struct {
	commands      *prometheus.CounterVec
	announcements *prometheus.CounterVec
	exports       *prometheus.CounterVec
}

// Control returns the operator-surface metrics registry.
func Control() *ControlMetrics {
	controlMetricsOnce.Do(func() {
		controlRegistry = &ControlMetrics{
			commands: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "server",
				Name:      "control_commands_total",
				Help:      "Operator commands segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "announcer",
				Name:      "announcements_total",
				Help:      "Announcements segmented by kind and outcome (posted, logged, failed).",
			}, []string{"kind", "outcome"}),
			exports: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "treasury",
				Subsystem: "storage",
				Name:      "exports_total",
				Help:      "Report exports segmented by format and outcome.",
			}, []string{"format", "outcome"}),
		}
		prometheus.MustRegister(controlRegistry.commands, controlRegistry.announcements, controlRegistry.exports)
	})
	return controlRegistry
}

// RecordCommand counts one operator command.
func (m *ControlMetrics) RecordCommand(action, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

// RecordAnnouncement counts one announcement attempt.
func (m *ControlMetrics) RecordAnnouncement(kind, outcome string) {
	if m == nil {
		return
	}
	m.announcements.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// RecordExport counts one report export.
func (m *ControlMetrics) RecordExport(format, outcome string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(normalizeLabel(format), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
