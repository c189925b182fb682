package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
)

func buildPositions(t *testing.T, entries map[string]float64) domain.PositionMap {
	t.Helper()
	m := domain.PositionMap{}
	for raw, amt := range entries {
		k := domain.MustParseInstrumentKey(raw)
		m[k] = decimal.NewFromFloat(amt)
	}
	return m
}

func TestMonitor_Assess_HealthFactorBreach(t *testing.T) {
	cfg := config.RiskMonitorConfig{
		EnabledRiskTypes: []string{"health_factor"},
		RiskLimits: map[string]float64{
			"health_factor_critical": 1.1,
			"health_factor_warning":  1.3,
		},
	}
	m := New(cfg, nil)
	positions := buildPositions(t, map[string]float64{
		"aave:aToken:USDC":  100,
		"aave:debtToken:USDC": 95,
	})
	assessment := m.Assess(time.Now(), positions, domain.ExposureSnapshot{})
	assert.Equal(t, domain.RiskCritical, assessment.RiskLevel)
	assert.NotEmpty(t, assessment.Breaches)
}

func TestMonitor_Assess_HealthFactorWarningOnly(t *testing.T) {
	cfg := config.RiskMonitorConfig{
		EnabledRiskTypes: []string{"health_factor"},
		RiskLimits: map[string]float64{
			"health_factor_critical": 1.1,
			"health_factor_warning":  1.5,
		},
	}
	m := New(cfg, nil)
	positions := buildPositions(t, map[string]float64{
		"aave:aToken:USDC":  100,
		"aave:debtToken:USDC": 80,
	})
	assessment := m.Assess(time.Now(), positions, domain.ExposureSnapshot{})
	assert.Equal(t, domain.RiskWarning, assessment.RiskLevel)
	assert.Empty(t, assessment.Breaches)
	assert.NotEmpty(t, assessment.Warnings)
}

func TestMonitor_Assess_NoDebtIsHealthySentinel(t *testing.T) {
	cfg := config.RiskMonitorConfig{
		EnabledRiskTypes: []string{"health_factor"},
		RiskLimits:       map[string]float64{"health_factor_critical": 1.1, "health_factor_warning": 1.3},
	}
	m := New(cfg, nil)
	positions := buildPositions(t, map[string]float64{"aave:aToken:USDC": 100})
	assessment := m.Assess(time.Now(), positions, domain.ExposureSnapshot{})
	assert.Equal(t, domain.RiskHealthy, assessment.RiskLevel)
}

func TestMonitor_Assess_DeltaToleranceBreach(t *testing.T) {
	cfg := config.RiskMonitorConfig{
		EnabledRiskTypes: []string{"delta_tolerance"},
		RiskLimits:       map[string]float64{"delta_tolerance": 10},
	}
	m := New(cfg, nil)
	exposure := domain.ExposureSnapshot{NetDeltaReporting: decimal.NewFromFloat(50)}
	assessment := m.Assess(time.Now(), domain.PositionMap{}, exposure)
	assert.Equal(t, domain.RiskCritical, assessment.RiskLevel)
}

func TestMonitor_Assess_DisabledEvaluatorIsSkipped(t *testing.T) {
	cfg := config.RiskMonitorConfig{EnabledRiskTypes: []string{"ltv"}}
	m := New(cfg, nil)
	positions := buildPositions(t, map[string]float64{
		"aave:aToken:USDC":  100,
		"aave:debtToken:USDC": 9999,
	})
	assessment := m.Assess(time.Now(), positions, domain.ExposureSnapshot{})
	assert.Equal(t, domain.RiskHealthy, assessment.RiskLevel, "health_factor evaluator wasn't enabled, so its breach must not surface")
}

func TestMonitor_GetLatest_ReturnsLastAssessment(t *testing.T) {
	cfg := config.RiskMonitorConfig{EnabledRiskTypes: []string{}}
	m := New(cfg, nil)
	first := m.Assess(time.Now(), domain.PositionMap{}, domain.ExposureSnapshot{})
	assert.Equal(t, first, m.GetLatest())
}
