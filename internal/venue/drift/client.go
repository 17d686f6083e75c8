// Package drift reads Drift account activity through the gateway service
// that fronts the Drift program. The gateway speaks Drift's native integer
// precisions: base asset amounts carry nine decimals, prices and quote
// amounts six. All amounts are normalized to decimals here.
package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/venue"
)

const (
	requestTimeout = 10 * time.Second

	baseExp  = -9
	quoteExp = -6
)

// Client reads one Drift gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Drift gateway client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Venue names the venue this client serves.
func (c *Client) Venue() model.Venue { return model.VenueDrift }

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("drift gateway request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: drift gateway: %v", venue.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: drift gateway status %d", venue.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("drift gateway status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode drift gateway response: %w", err)
	}
	return nil
}

func baseAmount(raw int64) decimal.Decimal  { return decimal.New(raw, baseExp) }
func quoteAmount(raw int64) decimal.Decimal { return decimal.New(raw, quoteExp) }

type gatewayOrder struct {
	OrderID          int64  `json:"orderId"`
	ClientOrderID    string `json:"clientOrderId"`
	MarketIndex      int    `json:"marketIndex"`
	Direction        string `json:"direction"`
	OrderType        string `json:"orderType"`
	BaseAssetAmount  int64  `json:"baseAssetAmount"`
	BaseAssetFilled  int64  `json:"baseAssetAmountFilled"`
	QuoteAssetFilled int64  `json:"quoteAssetAmountFilled"`
	Price            int64  `json:"price"`
	TriggerPrice     int64  `json:"triggerPrice"`
	TriggerCondition string `json:"triggerCondition"`
	Triggered        bool   `json:"triggered"`
	Status           string `json:"status"`
	Ts               int64  `json:"ts"`
}

func mapOrderType(s string) (model.OrderType, bool) {
	switch s {
	case "market":
		return model.OrderTypeMarket, true
	case "limit":
		return model.OrderTypeLimit, true
	case "triggerMarket":
		return model.OrderTypeTriggerMarket, true
	case "triggerLimit":
		return model.OrderTypeTriggerLimit, true
	}
	return "", false
}

// mapStatus folds the gateway status into the local lifecycle. A trigger
// order that has not fired yet is reported pending regardless of the
// gateway calling it open.
func mapStatus(g gatewayOrder, typ model.OrderType) (model.OrderStatus, bool) {
	switch g.Status {
	case "init":
		return model.OrderPending, true
	case "open":
		if typ.RequiresTrigger() && !g.Triggered {
			return model.OrderPending, true
		}
		return model.OrderOpen, true
	case "filled":
		return model.OrderFilled, true
	case "canceled", "cancelled":
		return model.OrderCancelled, true
	case "rejected":
		return model.OrderRejected, true
	case "failed":
		return model.OrderFailed, true
	case "liquidated":
		return model.OrderLiquidated, true
	}
	return "", false
}

// ListOrders returns the account's orders as reported by the gateway.
// Entries the local vocabulary cannot express are logged and skipped so
// one odd row does not hide the rest of the account.
func (c *Client) ListOrders(ctx context.Context, address string) ([]model.VenueOrder, error) {
	var body struct {
		Orders []gatewayOrder `json:"orders"`
	}
	q := url.Values{"authority": {address}}
	if err := c.get(ctx, "/v2/orders", q, &body); err != nil {
		return nil, err
	}

	out := make([]model.VenueOrder, 0, len(body.Orders))
	for _, g := range body.Orders {
		typ, ok := mapOrderType(g.OrderType)
		if !ok {
			slog.Warn("drift order skipped: unknown order type",
				"order_id", g.OrderID, "order_type", g.OrderType)
			continue
		}
		status, ok := mapStatus(g, typ)
		if !ok {
			slog.Warn("drift order skipped: unknown status",
				"order_id", g.OrderID, "status", g.Status)
			continue
		}
		dir := model.Direction(g.Direction)
		if !dir.Valid() {
			slog.Warn("drift order skipped: unknown direction",
				"order_id", g.OrderID, "direction", g.Direction)
			continue
		}

		filled := baseAmount(g.BaseAssetFilled)
		var avg decimal.Decimal
		if g.BaseAssetFilled > 0 {
			avg = quoteAmount(g.QuoteAssetFilled).Div(filled)
		}

		out = append(out, model.VenueOrder{
			ExternalOrderID:  strconv.FormatInt(g.OrderID, 10),
			ClientOrderID:    g.ClientOrderID,
			MarketIndex:      g.MarketIndex,
			Direction:        dir,
			OrderType:        typ,
			Price:            quoteAmount(g.Price),
			TriggerPrice:     quoteAmount(g.TriggerPrice),
			TriggerCondition: model.TriggerCondition(g.TriggerCondition),
			BaseAssetAmount:  baseAmount(g.BaseAssetAmount),
			FilledAmount:     filled,
			AvgFillPrice:     avg,
			Status:           status,
			UpdatedAt:        time.Unix(g.Ts, 0).UTC(),
		})
	}
	return out, nil
}

type gatewayPosition struct {
	MarketIndex     int   `json:"marketIndex"`
	BaseAssetAmount int64 `json:"baseAssetAmount"`
	EntryPrice      int64 `json:"entryPrice"`
	OraclePrice     int64 `json:"oraclePrice"`
	UnrealizedPnl   int64 `json:"unrealizedPnl"`
	BeingLiquidated bool  `json:"beingLiquidated"`
}

// ListPositions returns the account's open perp positions. Size is signed:
// positive long, negative short. The oracle price doubles as the mark.
func (c *Client) ListPositions(ctx context.Context, address string) ([]model.VenuePosition, error) {
	var body struct {
		Positions []gatewayPosition `json:"positions"`
	}
	q := url.Values{"authority": {address}}
	if err := c.get(ctx, "/v2/positions", q, &body); err != nil {
		return nil, err
	}

	out := make([]model.VenuePosition, 0, len(body.Positions))
	for _, g := range body.Positions {
		out = append(out, model.VenuePosition{
			Venue:         model.VenueDrift,
			MarketIndex:   g.MarketIndex,
			Size:          baseAmount(g.BaseAssetAmount),
			EntryPrice:    quoteAmount(g.EntryPrice),
			MarkPrice:     quoteAmount(g.OraclePrice),
			UnrealizedPnl: quoteAmount(g.UnrealizedPnl),
			Liquidated:    g.BeingLiquidated,
		})
	}
	return out, nil
}

type gatewayFill struct {
	OrderID         int64  `json:"orderId"`
	FillID          int64  `json:"fillId"`
	TxSig           string `json:"txSig"`
	MarketIndex     int    `json:"marketIndex"`
	Direction       string `json:"direction"`
	BaseAssetFilled int64  `json:"baseAssetAmountFilled"`
	FillPrice       int64  `json:"fillPrice"`
	Fee             int64  `json:"fee"`
	Ts              int64  `json:"ts"`
}

// ListFills returns executions at or after since.
func (c *Client) ListFills(ctx context.Context, address string, since time.Time) ([]model.VenueFill, error) {
	var body struct {
		Fills []gatewayFill `json:"fills"`
	}
	q := url.Values{"authority": {address}}
	if !since.IsZero() {
		q.Set("from", strconv.FormatInt(since.Unix(), 10))
	}
	if err := c.get(ctx, "/v2/fills", q, &body); err != nil {
		return nil, err
	}

	out := make([]model.VenueFill, 0, len(body.Fills))
	for _, g := range body.Fills {
		dir := model.Direction(g.Direction)
		if !dir.Valid() {
			slog.Warn("drift fill skipped: unknown direction",
				"fill_id", g.FillID, "direction", g.Direction)
			continue
		}
		out = append(out, model.VenueFill{
			Venue:           model.VenueDrift,
			ExternalOrderID: strconv.FormatInt(g.OrderID, 10),
			ExternalTradeID: strconv.FormatInt(g.FillID, 10),
			MarketIndex:     g.MarketIndex,
			Direction:       dir,
			Amount:          baseAmount(g.BaseAssetFilled),
			Price:           quoteAmount(g.FillPrice),
			Fee:             quoteAmount(g.Fee),
			ExecutedAt:      time.Unix(g.Ts, 0).UTC(),
		})
	}
	return out, nil
}

type gatewayTransfer struct {
	TxSig       string `json:"txSig"`
	Direction   string `json:"direction"`
	MarketIndex int    `json:"marketIndex"`
	Amount      int64  `json:"amount"`
	TokenSymbol string `json:"tokenSymbol"`
	Status      string `json:"status"`
	Ts          int64  `json:"ts"`
}

// ListTransfers returns deposits and withdrawals at or after since.
func (c *Client) ListTransfers(ctx context.Context, address string, since time.Time) ([]model.VenueTransfer, error) {
	var body struct {
		Transfers []gatewayTransfer `json:"transfers"`
	}
	q := url.Values{"authority": {address}}
	if !since.IsZero() {
		q.Set("from", strconv.FormatInt(since.Unix(), 10))
	}
	if err := c.get(ctx, "/v2/transfers", q, &body); err != nil {
		return nil, err
	}

	out := make([]model.VenueTransfer, 0, len(body.Transfers))
	for _, g := range body.Transfers {
		dir := model.TransferDirection(g.Direction)
		if !dir.Valid() {
			slog.Warn("drift transfer skipped: unknown direction",
				"tx_sig", g.TxSig, "direction", g.Direction)
			continue
		}
		status := g.Status
		if status == "" {
			status = model.TxConfirmed
		}
		out = append(out, model.VenueTransfer{
			Venue:               model.VenueDrift,
			Direction:           dir,
			MarketIndex:         g.MarketIndex,
			Amount:              quoteAmount(g.Amount),
			TokenSymbol:         g.TokenSymbol,
			ExternalTxSignature: g.TxSig,
			Status:              status,
			OccurredAt:          time.Unix(g.Ts, 0).UTC(),
		})
	}
	return out, nil
}
