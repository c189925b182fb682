package dataprovider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basistrade/engine/internal/domain"
)

type fakeFeed struct {
	name string
	snap domain.MarketSnapshot
	err  error
}

func (f fakeFeed) Name() string { return f.name }
func (f fakeFeed) Fetch(ctx context.Context) (domain.MarketSnapshot, error) { return f.snap, f.err }

func TestLiveProvider_Snapshot_MergesFeedsLaterWins(t *testing.T) {
	p := NewLiveProvider(
		fakeFeed{name: "binance", snap: domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(60000)}}},
		fakeFeed{name: "okx", snap: domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(60010)}}},
	)
	ts := time.Now().UTC()
	snap, err := p.Snapshot(context.Background(), ts)
	require.NoError(t, err)
	assert.Equal(t, ts, snap.Timestamp)
	assert.True(t, snap.Prices["BTC"].Equal(decimal.NewFromInt(60010)), "later feed should win on key collision")
}

func TestLiveProvider_Snapshot_PropagatesFeedError(t *testing.T) {
	p := NewLiveProvider(fakeFeed{name: "binance", err: errors.New("timeout")})
	_, err := p.Snapshot(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestLiveProvider_Timestamps_ReturnsUnsupportedError(t *testing.T) {
	p := NewLiveProvider()
	_, err := p.Timestamps(context.Background())
	assert.ErrorIs(t, err, ErrLiveSeriesUnsupported)
}

func TestRESTPriceFeed_Fetch_AssignsDecodedValuesViaAssignTo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"BTC":"60000.25"}`))
	}))
	defer srv.Close()

	f := NewRESTPriceFeed("binance-prices", srv.URL, func(s *domain.MarketSnapshot, v map[string]decimal.Decimal) {
		s.Prices = v
	})
	snap, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Prices["BTC"].Equal(decimal.RequireFromString("60000.25")))
	assert.Equal(t, "binance-prices", f.Name())
}

func TestRESTPriceFeed_Fetch_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewRESTPriceFeed("binance-prices", srv.URL, func(s *domain.MarketSnapshot, v map[string]decimal.Decimal) {})
	_, err := f.Fetch(context.Background())
	assert.Error(t, err)
}

func TestRESTPriceFeed_Fetch_InvalidDecimalReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"BTC":"garbage"}`))
	}))
	defer srv.Close()

	f := NewRESTPriceFeed("binance-prices", srv.URL, func(s *domain.MarketSnapshot, v map[string]decimal.Decimal) {})
	_, err := f.Fetch(context.Background())
	assert.Error(t, err)
}

var wsTestUpgrader = websocket.Upgrader{}

func TestWSPriceFeed_Fetch_ReturnsLatestStreamedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsTestUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"BTC":"61000"}`))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewWSPriceFeed(ctx, "binance-stream", url,
		func(msg []byte) (map[string]decimal.Decimal, error) {
			var raw map[string]string
			if err := json.Unmarshal(msg, &raw); err != nil {
				return nil, err
			}
			values := make(map[string]decimal.Decimal, len(raw))
			for k, v := range raw {
				d, err := decimal.NewFromString(v)
				if err != nil {
					return nil, err
				}
				values[k] = d
			}
			return values, nil
		},
		func(s *domain.MarketSnapshot, v map[string]decimal.Decimal) { s.Prices = v },
	)

	require.Eventually(t, func() bool {
		snap, err := f.Fetch(context.Background())
		return err == nil && snap.Prices["BTC"].Equal(decimal.NewFromInt(61000))
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "binance-stream", f.Name())
}

func TestWSPriceFeed_Fetch_ErrorsBeforeFirstMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewWSPriceFeed(ctx, "binance-stream", "ws://127.0.0.1:1",
		func(msg []byte) (map[string]decimal.Decimal, error) { return nil, nil },
		func(s *domain.MarketSnapshot, v map[string]decimal.Decimal) {},
	)
	_, err := f.Fetch(context.Background())
	assert.Error(t, err)
}
