package venue

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
)

// CEXPositionReader queries a CEX's account/balances endpoint for the
// authoritative real-view amounts PositionMonitor.refresh_real needs in
// live mode (spec §4.6).
type CEXPositionReader struct {
	client    *CEXClient
	venueName string
}

// NewCEXPositionReader builds a position reader sharing the trading
// client's HTTP transport and rate limiter.
func NewCEXPositionReader(client *CEXClient, venueName string) *CEXPositionReader {
	return &CEXPositionReader{client: client, venueName: venueName}
}

type cexBalanceEntry struct {
	Symbol string `json:"symbol"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Positions fetches current balances and returns only the requested keys,
// never inventing keys the caller didn't ask about (spec §4.6).
func (r *CEXPositionReader) Positions(ctx context.Context, keys []domain.InstrumentKey) (map[domain.InstrumentKey]decimal.Decimal, error) {
	var balances []cexBalanceEntry
	if err := r.getWithLimiter(ctx, "/account/balances", &balances); err != nil {
		return nil, errorcode.Wrap(errorcode.PosReconcileMismatch, errorcode.High,
			fmt.Sprintf("failed to fetch balances from venue %q", r.venueName), err)
	}

	bySymbol := make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		bySymbol[b.Symbol] = free.Add(locked)
	}

	out := make(map[domain.InstrumentKey]decimal.Decimal, len(keys))
	for _, k := range keys {
		if k.Venue != r.venueName {
			continue
		}
		out[k] = bySymbol[k.Symbol]
	}
	return out, nil
}

func (r *CEXPositionReader) getWithLimiter(ctx context.Context, path string, out any) error {
	if err := r.client.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.client.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", r.client.apiKey)
	resp, err := r.client.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("balances request failed: status %d", resp.StatusCode)
	}
	return decodeJSON(resp, out)
}
