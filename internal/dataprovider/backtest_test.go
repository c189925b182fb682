package dataprovider

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedSnapshot(t *testing.T, p *BacktestProvider, ts time.Time, prices, funding string) {
	t.Helper()
	_, err := p.db.Exec(`INSERT INTO market_snapshots (ts, prices, funding_rates) VALUES (?, ?, ?)`,
		ts.UTC(), prices, funding)
	require.NoError(t, err)
}

func TestNewBacktestProvider_CreatesSchemaOnEmptyFile(t *testing.T) {
	p, err := NewBacktestProvider(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	defer p.Close()

	timestamps, err := p.Timestamps(context.Background())
	require.NoError(t, err)
	assert.Empty(t, timestamps)
}

func TestSnapshot_ReturnsDecodedDecimalMaps(t *testing.T) {
	p, err := NewBacktestProvider(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	defer p.Close()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedSnapshot(t, p, ts, `{"BTC":"60000.5"}`, `{"BTC-PERP":"0.0001"}`)

	snap, err := p.Snapshot(context.Background(), ts)
	require.NoError(t, err)
	assert.True(t, snap.Prices["BTC"].Equal(mustDecimal("60000.5")))
	assert.True(t, snap.FundingRates["BTC-PERP"].Equal(mustDecimal("0.0001")))
}

func TestSnapshot_MissingTimestampReturnsError(t *testing.T) {
	p, err := NewBacktestProvider(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Snapshot(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

func TestSnapshot_InvalidDecimalInColumnReturnsError(t *testing.T) {
	p, err := NewBacktestProvider(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	defer p.Close()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedSnapshot(t, p, ts, `{"BTC":"not-a-number"}`, `{}`)

	_, err = p.Snapshot(context.Background(), ts)
	assert.Error(t, err)
}

func TestTimestamps_ReturnsAscendingOrder(t *testing.T) {
	p, err := NewBacktestProvider(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	defer p.Close()

	t2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedSnapshot(t, p, t2, `{}`, `{}`)
	seedSnapshot(t, p, t1, `{}`, `{}`)

	timestamps, err := p.Timestamps(context.Background())
	require.NoError(t, err)
	require.Len(t, timestamps, 2)
	assert.True(t, timestamps[0].Before(timestamps[1]))
}
