package domain

import (
	"fmt"
	"strings"

	"github.com/basistrade/engine/internal/domain/errorcode"
)

// PositionType is the "what kind" segment of an InstrumentKey.
type PositionType string

const (
	BaseToken  PositionType = "BaseToken"
	AToken     PositionType = "aToken"
	DebtToken  PositionType = "debtToken"
	Perp       PositionType = "Perp"
	LST        PositionType = "LST"
)

// InstrumentKey is the canonical venue:position_type:symbol triple that
// uniquely identifies a position slot (spec §3, "Instrument key").
type InstrumentKey struct {
	Venue        string
	PositionType PositionType
	Symbol       string
}

// String renders the canonical "venue:position_type:symbol" form.
func (k InstrumentKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Venue, k.PositionType, k.Symbol)
}

// ParseInstrumentKey validates and parses the canonical triple. It is the
// single validator used across all components (spec §3 invariant).
func ParseInstrumentKey(raw string) (InstrumentKey, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return InstrumentKey{}, errorcode.New(errorcode.ConfInvalidInstrument, errorcode.High,
			fmt.Sprintf("instrument key %q must have exactly 3 colon-separated segments", raw))
	}
	venue, kind, symbol := parts[0], parts[1], parts[2]
	if venue == "" || kind == "" || symbol == "" {
		return InstrumentKey{}, errorcode.New(errorcode.ConfInvalidInstrument, errorcode.High,
			fmt.Sprintf("instrument key %q has an empty segment", raw))
	}
	pt := PositionType(kind)
	switch pt {
	case BaseToken, AToken, DebtToken, Perp, LST:
	default:
		return InstrumentKey{}, errorcode.New(errorcode.ConfInvalidInstrument, errorcode.High,
			fmt.Sprintf("instrument key %q has unknown position_type %q", raw, kind))
	}
	return InstrumentKey{Venue: venue, PositionType: pt, Symbol: symbol}, nil
}

// MustParseInstrumentKey parses raw, panicking on error. Intended for
// compile-time-known keys (tests, constants), never for untrusted input.
func MustParseInstrumentKey(raw string) InstrumentKey {
	k, err := ParseInstrumentKey(raw)
	if err != nil {
		panic(err)
	}
	return k
}

// InstrumentSet is the mode-declared universe of instrument keys a strategy
// is allowed to touch, and the universe PositionMonitor pre-initializes
// (spec glossary, "Subscribed instrument set").
type InstrumentSet struct {
	keys map[InstrumentKey]struct{}
}

// NewInstrumentSet builds a set from a list of canonical key strings,
// rejecting any that fail to parse (spec §3 invariant: "every key … must
// either be explicitly subscribed … or be rejected at startup").
func NewInstrumentSet(raw []string) (*InstrumentSet, error) {
	set := &InstrumentSet{keys: make(map[InstrumentKey]struct{}, len(raw))}
	for _, r := range raw {
		k, err := ParseInstrumentKey(r)
		if err != nil {
			return nil, fmt.Errorf("instrument subscription: %w", err)
		}
		set.keys[k] = struct{}{}
	}
	return set, nil
}

// Contains reports whether key is a member of the subscribed set.
func (s *InstrumentSet) Contains(key InstrumentKey) bool {
	if s == nil {
		return false
	}
	_, ok := s.keys[key]
	return ok
}

// Keys returns the subscribed keys in no particular order.
func (s *InstrumentSet) Keys() []InstrumentKey {
	out := make([]InstrumentKey, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	return out
}

// Len reports the number of subscribed keys.
func (s *InstrumentSet) Len() int { return len(s.keys) }
