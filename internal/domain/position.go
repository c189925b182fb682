package domain

import "github.com/shopspring/decimal"

// PositionView distinguishes the simulated (expected) view of positions from
// the real (venue-reported) view (spec §3, "Position map").
type PositionView string

const (
	ViewSimulated PositionView = "simulated"
	ViewReal      PositionView = "real"
)

// PositionMap is the mapping from instrument key to signed amount, in the
// instrument's native unit. Debt is a positive magnitude on a debtToken key,
// never a negative value on the base-asset key.
type PositionMap map[InstrumentKey]decimal.Decimal

// Clone returns an independent copy of the map.
func (m PositionMap) Clone() PositionMap {
	out := make(PositionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Apply adds each delta to the corresponding key, creating the key at zero
// if it did not already exist. Callers are responsible for the instrument-
// closure invariant; Apply itself performs no subscription check.
func (m PositionMap) Apply(deltas map[InstrumentKey]decimal.Decimal) {
	for k, d := range deltas {
		m[k] = m[k].Add(d)
	}
}

// Negate returns a map with every delta's sign flipped, used by the
// round-trip law in spec §8 ("apply_deltas(expected); apply_deltas(negate(expected))").
func Negate(deltas map[InstrumentKey]decimal.Decimal) map[InstrumentKey]decimal.Decimal {
	out := make(map[InstrumentKey]decimal.Decimal, len(deltas))
	for k, v := range deltas {
		out[k] = v.Neg()
	}
	return out
}

// Delta is one entry of an Order's expected_deltas or a handshake's
// actual_deltas (spec §3).
type Delta struct {
	InstrumentKey InstrumentKey
	Amount        decimal.Decimal
	Token         string
	Venue         string
	OperationType OperationType
}

// DeltasToMap collapses an ordered delta list into an instrument-keyed map,
// summing entries that share a key (a single order may touch the same key
// twice, e.g. a fee credited back on the source token).
func DeltasToMap(deltas []Delta) map[InstrumentKey]decimal.Decimal {
	out := make(map[InstrumentKey]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		out[d.InstrumentKey] = out[d.InstrumentKey].Add(d.Amount)
	}
	return out
}
