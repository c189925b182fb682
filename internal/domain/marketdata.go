package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is what a DataProvider returns for a given timestamp: the
// complete set of prices, rates, and indices a UtilityManager derives from
// (spec §4.1 / §6, "DataProvider capability").
type MarketSnapshot struct {
	Timestamp      time.Time
	Prices         map[string]decimal.Decimal // instrument symbol -> price in reporting currency
	FundingRates   map[string]decimal.Decimal // perp symbol -> funding rate per period
	SupplyIndices  map[string]decimal.Decimal // venue:asset -> Aave-style supply index
	BorrowIndices  map[string]decimal.Decimal // venue:asset -> Aave-style borrow index
	StakingRates   map[string]decimal.Decimal // LST symbol -> conversion rate (native:LST)
	MLPredictions  map[string]decimal.Decimal // optional, strategy-specific signal
}

// CorrelationScope identifies one engine run (spec §3, "Correlation scope").
type CorrelationScope struct {
	CorrelationID string
	PID           int
	Mode          string
	Capital       decimal.Decimal
	StartedAt     time.Time
}
