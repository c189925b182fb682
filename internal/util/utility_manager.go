// Package util implements UtilityManager: pure derivations from a
// DataProvider snapshot (spec §4, "UtilityManager (leaf)").
package util

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
)

// Manager derives prices, lending indices, and LST conversion rates from a
// MarketSnapshot. It holds no state of its own and performs no I/O; every
// method is a pure function over the snapshot it is given.
type Manager struct{}

// New constructs a Manager. There is no configuration: UtilityManager is a
// pure leaf, per spec §4.
func New() *Manager { return &Manager{} }

// Price looks up the price of symbol in the reporting currency. A missing
// price is EXP-001 at MEDIUM severity.
func (m *Manager) Price(snap domain.MarketSnapshot, symbol string) (decimal.Decimal, error) {
	p, ok := snap.Prices[symbol]
	if !ok {
		return decimal.Zero, errorcode.New(errorcode.ExpMissingConversion, errorcode.Medium,
			fmt.Sprintf("no price for symbol %q at snapshot time", symbol))
	}
	return p, nil
}

// SupplyIndex returns the Aave-style supply index for venue:asset.
func (m *Manager) SupplyIndex(snap domain.MarketSnapshot, venueAsset string) (decimal.Decimal, error) {
	idx, ok := snap.SupplyIndices[venueAsset]
	if !ok {
		return decimal.Zero, errorcode.New(errorcode.DataMissingField, errorcode.High,
			fmt.Sprintf("no supply index for %q at snapshot time", venueAsset))
	}
	return idx, nil
}

// BorrowIndex returns the Aave-style borrow index for venue:asset.
func (m *Manager) BorrowIndex(snap domain.MarketSnapshot, venueAsset string) (decimal.Decimal, error) {
	idx, ok := snap.BorrowIndices[venueAsset]
	if !ok {
		return decimal.Zero, errorcode.New(errorcode.DataMissingField, errorcode.High,
			fmt.Sprintf("no borrow index for %q at snapshot time", venueAsset))
	}
	return idx, nil
}

// StakingRate returns the native:LST conversion rate for an LST symbol.
func (m *Manager) StakingRate(snap domain.MarketSnapshot, lstSymbol string) (decimal.Decimal, error) {
	rate, ok := snap.StakingRates[lstSymbol]
	if !ok {
		return decimal.Zero, errorcode.New(errorcode.DataMissingField, errorcode.High,
			fmt.Sprintf("no staking conversion rate for %q at snapshot time", lstSymbol))
	}
	return rate, nil
}

// FundingRate returns the current funding rate for a perp symbol.
func (m *Manager) FundingRate(snap domain.MarketSnapshot, perpSymbol string) (decimal.Decimal, error) {
	rate, ok := snap.FundingRates[perpSymbol]
	if !ok {
		return decimal.Zero, errorcode.New(errorcode.DataMissingField, errorcode.Medium,
			fmt.Sprintf("no funding rate for %q at snapshot time", perpSymbol))
	}
	return rate, nil
}

// ValueOf converts an amount of an instrument key into reporting-currency
// value, dispatching on the key's position type to the right conversion
// method (direct base-token price, aToken via supply index, LST via
// staking rate, perp via mark price).
func (m *Manager) ValueOf(snap domain.MarketSnapshot, key domain.InstrumentKey, amount decimal.Decimal) (decimal.Decimal, string, error) {
	switch key.PositionType {
	case domain.BaseToken, domain.Perp:
		p, err := m.Price(snap, key.Symbol)
		if err != nil {
			return decimal.Zero, "", err
		}
		return amount.Mul(p), "usd_price", nil
	case domain.AToken:
		idx, err := m.SupplyIndex(snap, key.Venue+":"+key.Symbol)
		if err != nil {
			return decimal.Zero, "", err
		}
		p, err := m.Price(snap, key.Symbol)
		if err != nil {
			return decimal.Zero, "", err
		}
		if idx.IsZero() {
			return decimal.Zero, "", errorcode.New(errorcode.ExpMissingConversion, errorcode.High,
				fmt.Sprintf("supply index for %q is zero", key.String()))
		}
		underlying := amount.Div(idx)
		return underlying.Mul(p), "direct", nil
	case domain.DebtToken:
		idx, err := m.BorrowIndex(snap, key.Venue+":"+key.Symbol)
		if err != nil {
			return decimal.Zero, "", err
		}
		p, err := m.Price(snap, key.Symbol)
		if err != nil {
			return decimal.Zero, "", err
		}
		underlying := amount.Mul(idx)
		return underlying.Mul(p).Neg(), "direct", nil
	case domain.LST:
		rate, err := m.StakingRate(snap, key.Symbol)
		if err != nil {
			return decimal.Zero, "", err
		}
		p, err := m.Price(snap, underlyingOf(key.Symbol))
		if err != nil {
			return decimal.Zero, "", err
		}
		if rate.IsZero() {
			return decimal.Zero, "", errorcode.New(errorcode.ExpMissingConversion, errorcode.High,
				fmt.Sprintf("staking rate for %q is zero", key.Symbol))
		}
		native := amount.Div(rate)
		return native.Mul(p), "lst_conversion", nil
	default:
		return decimal.Zero, "", errorcode.New(errorcode.ExpMissingConversion, errorcode.High,
			fmt.Sprintf("no conversion method for position type %q", key.PositionType))
	}
}

// underlyingOf maps an LST symbol to the underlying asset used for pricing,
// e.g. "weETH" -> "ETH". Only the LSTs listed here are mapped; any other
// symbol is priced under its own name, and no configuration changes this.
func underlyingOf(lstSymbol string) string {
	switch lstSymbol {
	case "weETH", "eETH", "stETH", "wstETH":
		return "ETH"
	default:
		return lstSymbol
	}
}
