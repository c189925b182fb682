// Package risk implements RiskMonitor: health factor, LTV, margin usage,
// delta-tolerance, and breach evaluation (spec §4.7).
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/logging"
)

// Evaluator is one independently-enabled risk check (spec §4.7, "Each
// evaluator is independently enabled").
type Evaluator func(positions domain.PositionMap, exposure domain.ExposureSnapshot, limits map[string]decimal.Decimal) (warning, breach string, value decimal.Decimal)

// Monitor evaluates the enabled risk set and caches the latest assessment.
type Monitor struct {
	cfg        config.RiskMonitorConfig
	evaluators map[string]Evaluator
	events     *logging.DomainEventLogger

	latest domain.RiskAssessment
}

// New constructs a risk Monitor wired with the standard evaluator set,
// limited to the config's enabled_risk_types (spec §4.7).
func New(cfg config.RiskMonitorConfig, events *logging.DomainEventLogger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		events: events,
		evaluators: map[string]Evaluator{
			"health_factor": healthFactorEvaluator,
			"ltv":           ltvEvaluator,
			"margin_usage":  marginUsageEvaluator,
			"delta_tolerance": deltaToleranceEvaluator,
		},
	}
}

// Assess runs every enabled evaluator and accumulates warnings/breaches,
// caching and logging the result (spec §4.7).
func (m *Monitor) Assess(t time.Time, positions domain.PositionMap, exposure domain.ExposureSnapshot) domain.RiskAssessment {
	limits := make(map[string]decimal.Decimal, len(m.cfg.RiskLimits))
	for k, v := range m.cfg.RiskLimits {
		limits[k] = decimal.NewFromFloat(v)
	}

	assessment := domain.RiskAssessment{
		EngineTime: domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
		RiskLevel:  domain.RiskHealthy,
	}

	for _, riskType := range m.cfg.EnabledRiskTypes {
		eval, ok := m.evaluators[riskType]
		if !ok {
			continue
		}
		warning, breach, value := eval(positions, exposure, limits)
		switch riskType {
		case "health_factor":
			assessment.HealthFactor = value
		case "ltv":
			assessment.LTV = value
		case "margin_usage":
			assessment.MarginUsage = value
		case "delta_tolerance":
			assessment.DeltaDeviation = value
		}
		if warning != "" {
			assessment.Warnings = append(assessment.Warnings, warning)
			if assessment.RiskLevel == domain.RiskHealthy {
				assessment.RiskLevel = domain.RiskWarning
			}
		}
		if breach != "" {
			assessment.Breaches = append(assessment.Breaches, breach)
			assessment.RiskLevel = domain.RiskCritical
		}
	}

	m.latest = assessment
	if m.events != nil {
		_ = m.events.Emit(logging.KindRisk, t.Format(time.RFC3339Nano), assessment.RealUTCTime.Format(time.RFC3339Nano), assessment)
	}
	return assessment
}

// GetLatest is an O(1) read of the last assessment.
func (m *Monitor) GetLatest() domain.RiskAssessment { return m.latest }

func healthFactorEvaluator(positions domain.PositionMap, _ domain.ExposureSnapshot, limits map[string]decimal.Decimal) (string, string, decimal.Decimal) {
	var collateral, debt decimal.Decimal
	for key, amt := range positions {
		switch key.PositionType {
		case domain.AToken:
			collateral = collateral.Add(amt)
		case domain.DebtToken:
			debt = debt.Add(amt)
		}
	}
	if debt.IsZero() {
		return "", "", decimal.NewFromInt(1000) // no debt: effectively infinite, represented as a large sentinel
	}
	hf := collateral.Div(debt)
	critical := limits["health_factor_critical"]
	warning := limits["health_factor_warning"]
	if !critical.IsZero() && hf.LessThanOrEqual(critical) {
		return "", fmt.Sprintf("health factor %s breached critical threshold %s", hf.String(), critical.String()), hf
	}
	if !warning.IsZero() && hf.LessThanOrEqual(warning) {
		return fmt.Sprintf("health factor %s below warning threshold %s", hf.String(), warning.String()), "", hf
	}
	return "", "", hf
}

func ltvEvaluator(positions domain.PositionMap, _ domain.ExposureSnapshot, limits map[string]decimal.Decimal) (string, string, decimal.Decimal) {
	var collateral, debt decimal.Decimal
	for key, amt := range positions {
		switch key.PositionType {
		case domain.AToken:
			collateral = collateral.Add(amt)
		case domain.DebtToken:
			debt = debt.Add(amt)
		}
	}
	if collateral.IsZero() {
		return "", "", decimal.Zero
	}
	ltv := debt.Div(collateral)
	max := limits["max_ltv"]
	if !max.IsZero() && ltv.GreaterThan(max) {
		return "", fmt.Sprintf("LTV %s exceeds max_ltv %s", ltv.String(), max.String()), ltv
	}
	return "", "", ltv
}

func marginUsageEvaluator(positions domain.PositionMap, _ domain.ExposureSnapshot, limits map[string]decimal.Decimal) (string, string, decimal.Decimal) {
	var perpNotional decimal.Decimal
	for key, amt := range positions {
		if key.PositionType == domain.Perp {
			perpNotional = perpNotional.Add(amt.Abs())
		}
	}
	maxMargin := limits["max_margin_usage"]
	if maxMargin.IsZero() {
		return "", "", perpNotional
	}
	if perpNotional.GreaterThan(maxMargin) {
		return "", fmt.Sprintf("margin usage %s exceeds limit %s", perpNotional.String(), maxMargin.String()), perpNotional
	}
	return "", "", perpNotional
}

func deltaToleranceEvaluator(_ domain.PositionMap, exposure domain.ExposureSnapshot, limits map[string]decimal.Decimal) (string, string, decimal.Decimal) {
	tolerance := limits["delta_tolerance"]
	deviation := exposure.NetDeltaReporting.Abs()
	if !tolerance.IsZero() && deviation.GreaterThan(tolerance) {
		return "", fmt.Sprintf("net delta %s exceeds tolerance %s", deviation.String(), tolerance.String()), deviation
	}
	return "", "", deviation
}
