// Package dataprovider implements ports.DataProvider: a backtest reader
// fed by a SQLite fixture database, and a live poller fed by venue feeds
// (spec §4.1).
package dataprovider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
)

const fixtureSchema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
    ts              DATETIME PRIMARY KEY,
    prices          TEXT NOT NULL DEFAULT '{}',
    funding_rates   TEXT NOT NULL DEFAULT '{}',
    supply_indices  TEXT NOT NULL DEFAULT '{}',
    borrow_indices  TEXT NOT NULL DEFAULT '{}',
    staking_rates   TEXT NOT NULL DEFAULT '{}',
    ml_predictions  TEXT NOT NULL DEFAULT '{}'
);
`

// BacktestProvider serves MarketSnapshot values from a pre-populated SQLite
// fixture database (pure-Go driver, no CGo), the way the teacher's
// adapters/storage.SQLiteStorage serves opportunity history — here read-only
// and keyed by timestamp instead of condition ID.
type BacktestProvider struct {
	db *sql.DB
}

// NewBacktestProvider opens (and schema-initializes, for an empty fixture
// file) the SQLite database at path.
func NewBacktestProvider(path string) (*BacktestProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errorcode.Wrap(errorcode.DataMissingField, errorcode.Critical,
			fmt.Sprintf("backtest provider: open %q", path), err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(fixtureSchema); err != nil {
		db.Close()
		return nil, errorcode.Wrap(errorcode.DataMissingField, errorcode.Critical, "backtest provider: apply schema", err)
	}
	return &BacktestProvider{db: db}, nil
}

type snapshotRow struct {
	Prices        string
	FundingRates  string
	SupplyIndices string
	BorrowIndices string
	StakingRates  string
	MLPredictions string
}

// Snapshot reads the fixture row for exactly t; missing rows are a
// DATA-001 error rather than a silently-empty snapshot (spec §9,
// "Configuration defaults vs. fail-fast" applies equally to fixture data).
func (p *BacktestProvider) Snapshot(ctx context.Context, t time.Time) (domain.MarketSnapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT prices, funding_rates, supply_indices, borrow_indices, staking_rates, ml_predictions
		FROM market_snapshots WHERE ts = ?`, t.UTC())

	var r snapshotRow
	if err := row.Scan(&r.Prices, &r.FundingRates, &r.SupplyIndices, &r.BorrowIndices, &r.StakingRates, &r.MLPredictions); err != nil {
		if err == sql.ErrNoRows {
			return domain.MarketSnapshot{}, errorcode.New(errorcode.DataMissingField, errorcode.High,
				fmt.Sprintf("no fixture snapshot for timestamp %s", t.UTC().Format(time.RFC3339)))
		}
		return domain.MarketSnapshot{}, errorcode.Wrap(errorcode.DataMissingField, errorcode.High, "backtest provider: scan row", err)
	}

	snap := domain.MarketSnapshot{Timestamp: t}
	var err error
	if snap.Prices, err = decodeDecimalMap(r.Prices); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.FundingRates, err = decodeDecimalMap(r.FundingRates); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.SupplyIndices, err = decodeDecimalMap(r.SupplyIndices); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.BorrowIndices, err = decodeDecimalMap(r.BorrowIndices); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.StakingRates, err = decodeDecimalMap(r.StakingRates); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.MLPredictions, err = decodeDecimalMap(r.MLPredictions); err != nil {
		return domain.MarketSnapshot{}, err
	}
	return snap, nil
}

// Timestamps returns the full fixture time series in ascending order, the
// backtest clock's tick schedule (spec §4.1, "Engine.run drives ticks from
// DataProvider.timestamps in backtest mode").
func (p *BacktestProvider) Timestamps(ctx context.Context) ([]time.Time, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT ts FROM market_snapshots ORDER BY ts ASC`)
	if err != nil {
		return nil, errorcode.Wrap(errorcode.DataMissingField, errorcode.Critical, "backtest provider: query timestamps", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, errorcode.Wrap(errorcode.DataMissingField, errorcode.Critical, "backtest provider: scan timestamp", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (p *BacktestProvider) Close() error { return p.db.Close() }

func decodeDecimalMap(raw string) (map[string]decimal.Decimal, error) {
	var asStrings map[string]string
	if err := json.Unmarshal([]byte(raw), &asStrings); err != nil {
		return nil, errorcode.Wrap(errorcode.DataMissingField, errorcode.High, "backtest provider: decode fixture column", err)
	}
	out := make(map[string]decimal.Decimal, len(asStrings))
	for k, v := range asStrings {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errorcode.Wrap(errorcode.DataMissingField, errorcode.High,
				fmt.Sprintf("backtest provider: invalid decimal for key %q", k), err)
		}
		out[k] = d
	}
	return out, nil
}
