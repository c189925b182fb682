package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
)

const (
	cexMaxRetries    = 3
	cexBaseRetryWait = 500 * time.Millisecond
)

// CEXClient executes spot and perp trades against a centralized exchange's
// REST trading API, rate-limited and retried the way the teacher's
// polymarket Client does (adapters/polymarket/client.go).
type CEXClient struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	venueName string
	limiter   *rate.Limiter
}

// NewCEXClient constructs a CEX trading client for one venue.
func NewCEXClient(venueName, baseURL, apiKey, apiSecret string, requestsPerSecond float64) *CEXClient {
	return &CEXClient{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		venueName: venueName,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}
}

type cexOrderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
}

type cexOrderResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	FilledQty     string `json:"filled_qty"`
	AvgPrice      string `json:"avg_price"`
	FeeAmount     string `json:"fee_amount"`
	FeeCurrency   string `json:"fee_currency"`
}

// Execute submits a spot_trade or perp_trade order and translates the
// venue's fill report into an ExecutionHandshake (spec §3, §4.4).
func (c *CEXClient) Execute(ctx context.Context, order domain.Order) (domain.ExecutionHandshake, error) {
	submittedAt := time.Now().UTC()

	side := "buy"
	qty := order.Amount
	if qty.IsNegative() {
		side = "sell"
		qty = qty.Abs()
	}

	req := cexOrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        order.TargetToken,
		Side:          side,
		Type:          "market",
		Quantity:      qty.String(),
	}

	var resp cexOrderResponse
	err := c.postWithRetry(ctx, "/orders", req, &resp)
	if err != nil {
		return domain.ExecutionHandshake{
			OperationID: order.OperationID,
			Status:      domain.StatusFailed,
			ErrorCode:   string(errorcode.ExecVenueTimeout),
			ErrorMessage: err.Error(),
			ErrorClass:  domain.ErrRetryableNetwork,
			SubmittedAt: submittedAt,
			ExecutedAt:  time.Now().UTC(),
			AtomicGroupID: order.AtomicGroupID, SequenceInGroup: order.SequenceInGroup,
		}, nil
	}

	filled, _ := decimal.NewFromString(resp.FilledQty)
	avgPrice, _ := decimal.NewFromString(resp.AvgPrice)
	fee, _ := decimal.NewFromString(resp.FeeAmount)

	status := domain.StatusFailed
	switch resp.Status {
	case "filled":
		status = domain.StatusConfirmed
	case "partially_filled", "open":
		status = domain.StatusPending
	}

	actual := filled
	if side == "sell" {
		actual = actual.Neg()
	}

	actualDeltas := map[domain.InstrumentKey]decimal.Decimal{
		{Venue: c.venueName, PositionType: targetPositionType(order.OperationType), Symbol: order.TargetToken}: actual,
	}
	if order.OperationType == domain.OpSpotTrade {
		notional := filled.Mul(avgPrice)
		if side == "buy" {
			notional = notional.Neg()
		}
		actualDeltas[domain.InstrumentKey{Venue: c.venueName, PositionType: domain.BaseToken, Symbol: order.SourceToken}] = notional
	}

	return domain.ExecutionHandshake{
		OperationID:      order.OperationID,
		Status:           status,
		ActualDeltas:     actualDeltas,
		ExecutionDetails: map[string]any{"order_id": resp.OrderID, "avg_price": avgPrice.String()},
		FeeAmount:        fee,
		FeeCurrency:      resp.FeeCurrency,
		SubmittedAt:      submittedAt,
		ExecutedAt:       time.Now().UTC(),
		AtomicGroupID:    order.AtomicGroupID,
		SequenceInGroup:  order.SequenceInGroup,
	}, nil
}

func targetPositionType(op domain.OperationType) domain.PositionType {
	if op == domain.OpPerpTrade {
		return domain.Perp
	}
	return domain.BaseToken
}

func (c *CEXClient) postWithRetry(ctx context.Context, path string, body, out any) error {
	url := c.baseURL + path
	for attempt := 0; attempt <= cexMaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == cexMaxRetries {
				return fmt.Errorf("request failed after %d retries: %w", cexMaxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("cex: rate limited", "venue", c.venueName, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == cexMaxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, cexMaxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(data))
		}

		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return fmt.Errorf("exhausted %d retries", cexMaxRetries)
}

func (c *CEXClient) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * cexBaseRetryWait
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
