package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func familyByName(t *testing.T, m *Registry, name string) float64 {
	t.Helper()
	families, err := m.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric family %q not found", name)
	return 0
}

func TestObserveTick_IncrementsTicksAndOrdersEmitted(t *testing.T) {
	m := New()
	m.ObserveTick(3)
	m.ObserveTick(0)

	assert.Equal(t, float64(2), familyByName(t, m, "engine_ticks_total"))
	assert.Equal(t, float64(3), familyByName(t, m, "engine_orders_emitted_total"))
}

func TestObserveOrderExecuted_SplitsByStatusLabel(t *testing.T) {
	m := New()
	m.ObserveOrderExecuted("confirmed")
	m.ObserveOrderExecuted("confirmed")
	m.ObserveOrderExecuted("failed")

	assert.Equal(t, float64(3), familyByName(t, m, "engine_orders_executed_total"))
}

func TestObserveRiskLevel_OnlyCountsWarningAndCritical(t *testing.T) {
	m := New()
	m.ObserveRiskLevel("nominal")
	m.ObserveRiskLevel("warning")
	m.ObserveRiskLevel("critical")

	assert.Equal(t, float64(2), familyByName(t, m, "engine_risk_breaches_total"))
}

func TestRegistry_RetriesAndRollbacksAreDirectCounters(t *testing.T) {
	m := New()
	m.RetriesTotal.Add(2)
	m.AtomicGroupRollbacksTotal.Inc()
	m.ReconciliationMismatchesTotal.Inc()

	assert.Equal(t, float64(2), familyByName(t, m, "engine_execution_retries_total"))
	assert.Equal(t, float64(1), familyByName(t, m, "engine_atomic_group_rollbacks_total"))
	assert.Equal(t, float64(1), familyByName(t, m, "engine_reconciliation_mismatches_total"))
}
