// Package hyperliquid reads Hyperliquid account activity through the /info
// endpoint. Hyperliquid identifies markets by coin symbol and encodes
// amounts as decimal strings; sides are B (bid, long) and A (ask, short).
// Coins resolve to market indexes through the market registry.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/market"
	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/venue"
)

const requestTimeout = 10 * time.Second

// Client reads one Hyperliquid info API.
type Client struct {
	baseURL string
	markets *market.Registry
	http    *http.Client
}

// NewClient creates a Hyperliquid client. markets resolves coin symbols to
// market indexes.
func NewClient(baseURL string, markets *market.Registry) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		markets: markets,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Venue names the venue this client serves.
func (c *Client) Venue() model.Venue { return model.VenueHyperliquid }

type infoRequest struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	StartTime int64  `json:"startTime,omitempty"`
}

func (c *Client) post(ctx context.Context, body infoRequest, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode info request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("info request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: hyperliquid: %v", venue.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: hyperliquid status %d", venue.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hyperliquid status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode hyperliquid response: %w", err)
	}
	return nil
}

// dec parses a Hyperliquid decimal string; empty means zero.
func dec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, nil
	}
	return decimal.NewFromString(s)
}

func mapSide(s string) (model.Direction, bool) {
	switch s {
	case "B":
		return model.DirectionLong, true
	case "A":
		return model.DirectionShort, true
	}
	return "", false
}

// mapOrderType folds Hyperliquid's display order types into the local
// vocabulary. Stop and take-profit variants are trigger orders.
func mapOrderType(s string, isTrigger bool) (model.OrderType, bool) {
	if isTrigger {
		if strings.HasSuffix(s, "Limit") {
			return model.OrderTypeTriggerLimit, true
		}
		return model.OrderTypeTriggerMarket, true
	}
	switch s {
	case "Limit":
		return model.OrderTypeLimit, true
	case "Market":
		return model.OrderTypeMarket, true
	}
	return "", false
}

func mapTriggerCondition(s string) model.TriggerCondition {
	c := model.TriggerCondition(strings.ToLower(s))
	if c.Valid() {
		return c
	}
	return ""
}

type infoOrder struct {
	Coin             string `json:"coin"`
	Oid              int64  `json:"oid"`
	Cloid            string `json:"cloid"`
	Side             string `json:"side"`
	LimitPx          string `json:"limitPx"`
	Sz               string `json:"sz"`
	OrigSz           string `json:"origSz"`
	OrderType        string `json:"orderType"`
	IsTrigger        bool   `json:"isTrigger"`
	TriggerPx        string `json:"triggerPx"`
	TriggerCondition string `json:"triggerCondition"`
	Timestamp        int64  `json:"timestamp"`
}

// ListOrders returns the account's resting orders. Sz is the remaining
// size, so filled = origSz - sz; the listing carries no fill prices, the
// fills feed does. Unfired trigger orders are reported pending.
func (c *Client) ListOrders(ctx context.Context, address string) ([]model.VenueOrder, error) {
	var rows []infoOrder
	if err := c.post(ctx, infoRequest{Type: "frontendOpenOrders", User: address}, &rows); err != nil {
		return nil, err
	}

	out := make([]model.VenueOrder, 0, len(rows))
	for _, r := range rows {
		m, err := c.markets.ByCoin(r.Coin)
		if err != nil {
			slog.Warn("hyperliquid order skipped: unknown coin", "oid", r.Oid, "coin", r.Coin)
			continue
		}
		dir, ok := mapSide(r.Side)
		if !ok {
			slog.Warn("hyperliquid order skipped: unknown side", "oid", r.Oid, "side", r.Side)
			continue
		}
		typ, ok := mapOrderType(r.OrderType, r.IsTrigger)
		if !ok {
			slog.Warn("hyperliquid order skipped: unknown order type",
				"oid", r.Oid, "order_type", r.OrderType)
			continue
		}

		origSz, err := dec(r.OrigSz)
		if err != nil {
			return nil, fmt.Errorf("parse order %d origSz: %w", r.Oid, err)
		}
		sz, err := dec(r.Sz)
		if err != nil {
			return nil, fmt.Errorf("parse order %d sz: %w", r.Oid, err)
		}
		px, err := dec(r.LimitPx)
		if err != nil {
			return nil, fmt.Errorf("parse order %d limitPx: %w", r.Oid, err)
		}
		triggerPx, err := dec(r.TriggerPx)
		if err != nil {
			return nil, fmt.Errorf("parse order %d triggerPx: %w", r.Oid, err)
		}

		status := model.OrderOpen
		if r.IsTrigger {
			status = model.OrderPending
		}

		out = append(out, model.VenueOrder{
			ExternalOrderID:  strconv.FormatInt(r.Oid, 10),
			ClientOrderID:    r.Cloid,
			MarketIndex:      m.Index,
			Direction:        dir,
			OrderType:        typ,
			Price:            px,
			TriggerPrice:     triggerPx,
			TriggerCondition: mapTriggerCondition(r.TriggerCondition),
			BaseAssetAmount:  origSz,
			FilledAmount:     origSz.Sub(sz),
			Status:           status,
			UpdatedAt:        time.UnixMilli(r.Timestamp).UTC(),
		})
	}
	return out, nil
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			PositionValue string `json:"positionValue"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// ListPositions returns the account's open positions. Szi is signed size;
// the mark is recovered from positionValue / |szi|.
func (c *Client) ListPositions(ctx context.Context, address string) ([]model.VenuePosition, error) {
	var state clearinghouseState
	if err := c.post(ctx, infoRequest{Type: "clearinghouseState", User: address}, &state); err != nil {
		return nil, err
	}

	out := make([]model.VenuePosition, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		m, err := c.markets.ByCoin(p.Coin)
		if err != nil {
			slog.Warn("hyperliquid position skipped: unknown coin", "coin", p.Coin)
			continue
		}
		szi, err := dec(p.Szi)
		if err != nil {
			return nil, fmt.Errorf("parse position %s szi: %w", p.Coin, err)
		}
		if szi.IsZero() {
			continue
		}
		entry, err := dec(p.EntryPx)
		if err != nil {
			return nil, fmt.Errorf("parse position %s entryPx: %w", p.Coin, err)
		}
		value, err := dec(p.PositionValue)
		if err != nil {
			return nil, fmt.Errorf("parse position %s positionValue: %w", p.Coin, err)
		}
		upnl, err := dec(p.UnrealizedPnl)
		if err != nil {
			return nil, fmt.Errorf("parse position %s unrealizedPnl: %w", p.Coin, err)
		}

		out = append(out, model.VenuePosition{
			Venue:         model.VenueHyperliquid,
			MarketIndex:   m.Index,
			Size:          szi,
			EntryPrice:    entry,
			MarkPrice:     value.Div(szi.Abs()),
			UnrealizedPnl: upnl,
		})
	}
	return out, nil
}

type infoFill struct {
	Coin string `json:"coin"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
	Time int64  `json:"time"`
	Oid  int64  `json:"oid"`
	Tid  int64  `json:"tid"`
	Fee  string `json:"fee"`
	Hash string `json:"hash"`
}

// ListFills returns executions at or after since.
func (c *Client) ListFills(ctx context.Context, address string, since time.Time) ([]model.VenueFill, error) {
	req := infoRequest{Type: "userFillsByTime", User: address}
	if !since.IsZero() {
		req.StartTime = since.UnixMilli()
	}

	var rows []infoFill
	if err := c.post(ctx, req, &rows); err != nil {
		return nil, err
	}

	out := make([]model.VenueFill, 0, len(rows))
	for _, r := range rows {
		m, err := c.markets.ByCoin(r.Coin)
		if err != nil {
			slog.Warn("hyperliquid fill skipped: unknown coin", "tid", r.Tid, "coin", r.Coin)
			continue
		}
		dir, ok := mapSide(r.Side)
		if !ok {
			slog.Warn("hyperliquid fill skipped: unknown side", "tid", r.Tid, "side", r.Side)
			continue
		}
		sz, err := dec(r.Sz)
		if err != nil {
			return nil, fmt.Errorf("parse fill %d sz: %w", r.Tid, err)
		}
		px, err := dec(r.Px)
		if err != nil {
			return nil, fmt.Errorf("parse fill %d px: %w", r.Tid, err)
		}
		fee, err := dec(r.Fee)
		if err != nil {
			return nil, fmt.Errorf("parse fill %d fee: %w", r.Tid, err)
		}

		out = append(out, model.VenueFill{
			Venue:           model.VenueHyperliquid,
			ExternalOrderID: strconv.FormatInt(r.Oid, 10),
			ExternalTradeID: strconv.FormatInt(r.Tid, 10),
			MarketIndex:     m.Index,
			Direction:       dir,
			Amount:          sz,
			Price:           px,
			Fee:             fee,
			ExecutedAt:      time.UnixMilli(r.Time).UTC(),
		})
	}
	return out, nil
}

type ledgerUpdate struct {
	Time  int64  `json:"time"`
	Hash  string `json:"hash"`
	Delta struct {
		Type string `json:"type"`
		Usdc string `json:"usdc"`
	} `json:"delta"`
}

// ListTransfers returns USDC deposits and withdrawals at or after since.
// Other ledger delta kinds (funding class transfers, spot moves) are not
// transfers and are skipped.
func (c *Client) ListTransfers(ctx context.Context, address string, since time.Time) ([]model.VenueTransfer, error) {
	req := infoRequest{Type: "userNonFundingLedgerUpdates", User: address}
	if !since.IsZero() {
		req.StartTime = since.UnixMilli()
	}

	var rows []ledgerUpdate
	if err := c.post(ctx, req, &rows); err != nil {
		return nil, err
	}

	out := make([]model.VenueTransfer, 0, len(rows))
	for _, r := range rows {
		var dir model.TransferDirection
		switch r.Delta.Type {
		case "deposit":
			dir = model.TransferDeposit
		case "withdraw":
			dir = model.TransferWithdrawal
		default:
			continue
		}
		amount, err := dec(r.Delta.Usdc)
		if err != nil {
			return nil, fmt.Errorf("parse ledger update %s usdc: %w", r.Hash, err)
		}

		out = append(out, model.VenueTransfer{
			Venue:               model.VenueHyperliquid,
			Direction:           dir,
			Amount:              amount.Abs(),
			TokenSymbol:         "USDC",
			ExternalTxSignature: r.Hash,
			Status:              model.TxConfirmed,
			OccurredAt:          time.UnixMilli(r.Time).UTC(),
		})
	}
	return out, nil
}
