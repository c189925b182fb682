package strategy

import (
	"fmt"
	"strings"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
	"github.com/basistrade/engine/internal/ports"
)

// Mode names recognized by New, matching config.StrategyManagerConfig's
// strategy_type field (spec §6).
const (
	ModePureLending   = "pure_lending"
	ModeBasis         = "basis"
	ModeStaking       = "staking"
	ModeLeveraged     = "leveraged"
	ModeMarketNeutral = "market_neutral"
	ModeMLDirectional = "ml_directional"
)

// New dispatches on cfg.StrategyType to construct the configured variant,
// the way the teacher's scanner dispatches on a strategy name to build the
// active scanning strategy. venues supplies the per-venue instrument lists
// the variant derives its instrument keys from.
func New(mode string, subscribed *domain.InstrumentSet, cfg config.StrategyManagerConfig, venues map[string]config.VenueConfig) (ports.StrategyVariant, error) {
	switch mode {
	case ModePureLending:
		venue, symbol, err := firstInstrument(venues, domain.BaseToken)
		if err != nil {
			return nil, err
		}
		return NewPureLending(subscribed, cfg, venue, symbol)

	case ModeBasis:
		spotVenue, symbol, err := firstVenueWithType(venues, domain.BaseToken)
		if err != nil {
			return nil, err
		}
		perpVenue, _, err := firstVenueWithType(venues, domain.Perp)
		if err != nil {
			return nil, err
		}
		return NewBasis(subscribed, cfg, spotVenue, perpVenue, symbol, "USDC")

	case ModeStaking:
		venue, symbol, err := firstInstrument(venues, domain.LST)
		if err != nil {
			return nil, err
		}
		return NewStaking(subscribed, cfg, venue, underlyingSymbol(symbol), symbol)

	case ModeLeveraged:
		venue, symbol, err := firstInstrument(venues, domain.AToken)
		if err != nil {
			return nil, err
		}
		return NewLeveraged(subscribed, cfg, venue, symbol, 2.0, 0.0009)

	case ModeMarketNeutral:
		spotVenue, symbol, err := firstVenueWithType(venues, domain.BaseToken)
		if err != nil {
			return nil, err
		}
		perpVenue, _, err := firstVenueWithType(venues, domain.Perp)
		if err != nil {
			return nil, err
		}
		leg, err := NewBasis(subscribed, cfg, spotVenue, perpVenue, symbol, "USDC")
		if err != nil {
			return nil, err
		}
		return NewMarketNeutral([]*Basis{leg}), nil

	case ModeMLDirectional:
		venue, symbol, err := firstVenueWithType(venues, domain.Perp)
		if err != nil {
			return nil, err
		}
		return NewMLDirectional(subscribed, cfg, venue, symbol, 1_000_000, 0.2)

	default:
		return nil, errorcode.New(errorcode.StratOrderConstruction, errorcode.Critical,
			fmt.Sprintf("unknown strategy_type %q", mode))
	}
}

// firstInstrument returns the first venue/symbol pair of the given
// position type found in venues, in the canonical "venue:position_type:symbol"
// form the config shape uses.
func firstInstrument(venues map[string]config.VenueConfig, want domain.PositionType) (string, string, error) {
	return firstVenueWithType(venues, want)
}

func firstVenueWithType(venues map[string]config.VenueConfig, want domain.PositionType) (string, string, error) {
	for venue, vc := range venues {
		if !vc.Enabled {
			continue
		}
		for _, raw := range vc.CanonicalInstruments {
			key, err := domain.ParseInstrumentKey(raw)
			if err != nil {
				continue
			}
			if key.PositionType == want {
				return venue, key.Symbol, nil
			}
		}
	}
	return "", "", errorcode.New(errorcode.ConfMissingField, errorcode.Critical,
		fmt.Sprintf("no enabled venue declares a canonical instrument of type %q", want))
}

func underlyingSymbol(lstSymbol string) string {
	switch strings.ToLower(lstSymbol) {
	case "steth", "wsteth", "weeth", "eeth":
		return "ETH"
	default:
		return lstSymbol
	}
}
