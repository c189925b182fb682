// Package metrics collects Prometheus counters and gauges for one engine
// run. The registry is never served over HTTP (spec explicitly scopes an
// HTTP metrics surface out); it exists so a run can be inspected after the
// fact via the registry's Gather, the way a caller would otherwise
// scrape /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds every collector this engine run reports, grounded on the
// teacher pack's infrastructure/metrics.Metrics shape (counters/gauges
// registered against a private prometheus.Registry instead of the default
// global one, so a run never leaks collectors into another process's
// /metrics endpoint).
type Registry struct {
	registry *prometheus.Registry

	TicksTotal              prometheus.Counter
	OrdersEmittedTotal      prometheus.Counter
	OrdersExecutedTotal     *prometheus.CounterVec // label: status
	RetriesTotal            prometheus.Counter
	ReconciliationMismatchesTotal prometheus.Counter
	RiskBreachesTotal       *prometheus.CounterVec // label: level
	AtomicGroupRollbacksTotal prometheus.Counter
}

// New constructs a Registry with every collector registered against its
// own private prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Total number of engine ticks processed.",
		}),
		OrdersEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_orders_emitted_total",
			Help: "Total number of orders emitted by strategy decisions.",
		}),
		OrdersExecutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_executed_total",
			Help: "Total number of orders executed, by final handshake status.",
		}, []string{"status"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_execution_retries_total",
			Help: "Total number of venue-call retries across all orders.",
		}),
		ReconciliationMismatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_reconciliation_mismatches_total",
			Help: "Total number of reconciliation passes that found a mismatch.",
		}),
		RiskBreachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_risk_breaches_total",
			Help: "Total number of risk assessments at warning or critical level.",
		}, []string{"level"}),
		AtomicGroupRollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_atomic_group_rollbacks_total",
			Help: "Total number of atomic groups that rolled back.",
		}),
	}
	reg.MustRegister(
		m.TicksTotal, m.OrdersEmittedTotal, m.OrdersExecutedTotal,
		m.RetriesTotal, m.ReconciliationMismatchesTotal, m.RiskBreachesTotal,
		m.AtomicGroupRollbacksTotal,
	)
	return m
}

// ObserveTick records one tick and the number of orders its strategy
// decision emitted.
func (m *Registry) ObserveTick(ordersEmitted int) {
	m.TicksTotal.Inc()
	if ordersEmitted > 0 {
		m.OrdersEmittedTotal.Add(float64(ordersEmitted))
	}
}

// ObserveOrderExecuted records one order's final handshake status.
func (m *Registry) ObserveOrderExecuted(status string) {
	m.OrdersExecutedTotal.WithLabelValues(status).Inc()
}

// ObserveRiskLevel records one risk assessment's level.
func (m *Registry) ObserveRiskLevel(level string) {
	if level == "warning" || level == "critical" {
		m.RiskBreachesTotal.WithLabelValues(level).Inc()
	}
}

// Gather returns the collected metric families, so a run's counters can be
// read without an HTTP scrape.
func (m *Registry) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}
