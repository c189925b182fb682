package dataprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
)

// ErrLiveSeriesUnsupported is returned by LiveProvider.Timestamps: live mode
// is driven by a wall-clock ticker in the engine, not a fixed series.
var ErrLiveSeriesUnsupported = errorcode.New(errorcode.DataMissingField, errorcode.Low,
	"live data provider has no fixed timestamp series")

const (
	liveRequestsPerSecond = 5.0
	liveBurst             = 5
	liveHTTPTimeout       = 8 * time.Second
)

// PriceFeed polls one venue's REST endpoint for current prices, funding
// rates, lending indices, or staking rates. LiveProvider fans out to one
// feed per venue per tick and merges the results into a single snapshot,
// the live-mode analogue of the teacher client's CLOB/Gamma dual-source
// polling.
type PriceFeed interface {
	// Fetch returns symbol-keyed values for the quantities this feed
	// covers (a feed may populate any subset of the snapshot maps; unset
	// maps are left nil).
	Fetch(ctx context.Context) (domain.MarketSnapshot, error)
	Name() string
}

// LiveProvider polls a set of PriceFeeds and merges them into one
// MarketSnapshot per call, for ports.DataProvider in live mode (spec §4.1).
type LiveProvider struct {
	feeds []PriceFeed
}

// NewLiveProvider constructs a LiveProvider polling feeds in the order
// given; later feeds win on key collisions, so list the most authoritative
// source for each quantity last.
func NewLiveProvider(feeds ...PriceFeed) *LiveProvider {
	return &LiveProvider{feeds: feeds}
}

// Snapshot fetches every configured feed and merges them, stamping the
// merged snapshot with t (the engine's current wall-clock tick time).
func (p *LiveProvider) Snapshot(ctx context.Context, t time.Time) (domain.MarketSnapshot, error) {
	merged := domain.MarketSnapshot{
		Timestamp:     t,
		Prices:        make(map[string]decimal.Decimal),
		FundingRates:  make(map[string]decimal.Decimal),
		SupplyIndices: make(map[string]decimal.Decimal),
		BorrowIndices: make(map[string]decimal.Decimal),
		StakingRates:  make(map[string]decimal.Decimal),
		MLPredictions: make(map[string]decimal.Decimal),
	}
	for _, f := range p.feeds {
		snap, err := f.Fetch(ctx)
		if err != nil {
			return domain.MarketSnapshot{}, errorcode.Wrap(errorcode.DataVenueUnreachable, errorcode.High,
				fmt.Sprintf("live feed %q failed", f.Name()), err)
		}
		mergeInto(merged.Prices, snap.Prices)
		mergeInto(merged.FundingRates, snap.FundingRates)
		mergeInto(merged.SupplyIndices, snap.SupplyIndices)
		mergeInto(merged.BorrowIndices, snap.BorrowIndices)
		mergeInto(merged.StakingRates, snap.StakingRates)
		mergeInto(merged.MLPredictions, snap.MLPredictions)
	}
	return merged, nil
}

// Timestamps is unsupported in live mode; the engine drives live ticks from
// a wall-clock ticker instead of a fixed series.
func (p *LiveProvider) Timestamps(ctx context.Context) ([]time.Time, error) {
	return nil, ErrLiveSeriesUnsupported
}

func mergeInto(dst, src map[string]decimal.Decimal) {
	for k, v := range src {
		dst[k] = v
	}
}

// RESTPriceFeed is a PriceFeed backed by a single rate-limited JSON GET
// endpoint returning a flat symbol->price object, the live counterpart of
// BacktestProvider's fixture rows. Built the way the teacher's
// polymarket.Client.get wraps a rate.Limiter and retry/backoff around a
// plain http.Client.
type RESTPriceFeed struct {
	name     string
	url      string
	http     *http.Client
	limiter  *rate.Limiter
	assignTo func(snap *domain.MarketSnapshot, values map[string]decimal.Decimal)
}

// NewRESTPriceFeed builds a feed that fetches url (a JSON object mapping
// symbol to decimal string) and assigns the parsed values into the
// snapshot field chosen by assignTo, e.g.:
//
//	func(s *domain.MarketSnapshot, v map[string]decimal.Decimal) { s.Prices = v }
func NewRESTPriceFeed(name, url string, assignTo func(*domain.MarketSnapshot, map[string]decimal.Decimal)) *RESTPriceFeed {
	return &RESTPriceFeed{
		name:     name,
		url:      url,
		http:     &http.Client{Timeout: liveHTTPTimeout},
		limiter:  rate.NewLimiter(rate.Limit(liveRequestsPerSecond), liveBurst),
		assignTo: assignTo,
	}
}

func (f *RESTPriceFeed) Name() string { return f.name }

// Fetch issues one rate-limited GET and decodes a flat symbol->decimal
// object into the snapshot field this feed owns.
func (f *RESTPriceFeed) Fetch(ctx context.Context) (domain.MarketSnapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return domain.MarketSnapshot{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("feed %s: request: %w", f.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.MarketSnapshot{}, fmt.Errorf("feed %s: unexpected status %d", f.name, resp.StatusCode)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("feed %s: decode: %w", f.name, err)
	}
	values := make(map[string]decimal.Decimal, len(raw))
	for k, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("feed %s: invalid decimal for %q: %w", f.name, k, err)
		}
		values[k] = d
	}

	snap := domain.MarketSnapshot{}
	f.assignTo(&snap, values)
	return snap, nil
}

const wsReconnectDelay = 5 * time.Second

// WSPriceFeed is a PriceFeed backed by a streaming websocket connection that
// pushes ticks rather than answering pulls, the way a mark-price or trade
// stream does on a CEX. A background goroutine holds the connection open
// and decodes each message with decode; Fetch just returns the latest
// decoded values, so the tight loop never blocks on network I/O. Grounded
// on the dial-retry-read loop in the predator-engine reference sample.
type WSPriceFeed struct {
	name   string
	url    string
	decode func(message []byte) (map[string]decimal.Decimal, error)
	assign func(snap *domain.MarketSnapshot, values map[string]decimal.Decimal)

	mu     sync.RWMutex
	latest map[string]decimal.Decimal
}

// NewWSPriceFeed starts the background read loop immediately; callers stop
// it by cancelling ctx. decode turns one raw websocket message into the
// symbol->value map this feed contributes; assign places the merged values
// into the right MarketSnapshot field, mirroring RESTPriceFeed's assignTo.
func NewWSPriceFeed(ctx context.Context, name, url string,
	decode func([]byte) (map[string]decimal.Decimal, error),
	assign func(*domain.MarketSnapshot, map[string]decimal.Decimal),
) *WSPriceFeed {
	f := &WSPriceFeed{name: name, url: url, decode: decode, assign: assign}
	go f.run(ctx)
	return f
}

func (f *WSPriceFeed) Name() string { return f.name }

// Fetch returns the most recently streamed values, or an error if the feed
// has not yet received a first message.
func (f *WSPriceFeed) Fetch(ctx context.Context) (domain.MarketSnapshot, error) {
	f.mu.RLock()
	values := f.latest
	f.mu.RUnlock()
	if values == nil {
		return domain.MarketSnapshot{}, fmt.Errorf("feed %s: no message received yet", f.name)
	}
	snap := domain.MarketSnapshot{}
	f.assign(&snap, values)
	return snap, nil
}

// run holds the websocket connection open, reconnecting on any read or
// dial error until ctx is cancelled.
func (f *WSPriceFeed) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wsReconnectDelay):
				continue
			}
		}
		f.readLoop(ctx, conn)
		conn.Close()
	}
}

func (f *WSPriceFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		values, err := f.decode(message)
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.latest = values
		f.mu.Unlock()
	}
}
