// Package model defines the core domain types shared across the position
// engine. All monetary and size values use shopspring/decimal, never float64
// for money. Entities persisted by the store live here next to the normalized
// venue shapes produced by the venue clients.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies one of the two supported derivatives venues.
type Venue string

const (
	VenueDrift       Venue = "drift"
	VenueHyperliquid Venue = "hyperliquid"
)

// Valid reports whether v is a known venue.
func (v Venue) Valid() bool {
	return v == VenueDrift || v == VenueHyperliquid
}

// Direction is the side of an order or position leg.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// OrderType is the closed set of supported order variants. Limit variants
// require a price; trigger variants require a trigger price and condition.
type OrderType string

const (
	OrderTypeMarket        OrderType = "market"
	OrderTypeLimit         OrderType = "limit"
	OrderTypeTriggerMarket OrderType = "trigger_market"
	OrderTypeTriggerLimit  OrderType = "trigger_limit"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeTriggerMarket, OrderTypeTriggerLimit:
		return true
	}
	return false
}

// RequiresPrice reports whether the variant carries a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeTriggerLimit
}

// RequiresTrigger reports whether the variant carries a trigger price and
// condition.
func (t OrderType) RequiresTrigger() bool {
	return t == OrderTypeTriggerMarket || t == OrderTypeTriggerLimit
}

// TriggerCondition tells which side of the trigger price arms the order.
type TriggerCondition string

const (
	TriggerAbove TriggerCondition = "above"
	TriggerBelow TriggerCondition = "below"
)

// Valid reports whether c is a known trigger condition.
func (c TriggerCondition) Valid() bool {
	return c == TriggerAbove || c == TriggerBelow
}

// OrderStatus is the order lifecycle state. Transitions are monotonic:
// pending, then open, then exactly one terminal status. A trigger order
// stays pending until the venue reports its condition met.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderOpen       OrderStatus = "open"
	OrderFilled     OrderStatus = "filled"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRejected   OrderStatus = "rejected"
	OrderFailed     OrderStatus = "failed"
	OrderLiquidated OrderStatus = "liquidated"
)

// Terminal reports whether the status is final. A terminal status is never
// overwritten.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderFailed, OrderLiquidated:
		return true
	}
	return false
}

// PositionKind distinguishes a one-leg position from a two-venue hedge.
type PositionKind string

const (
	PositionSingle       PositionKind = "single"
	PositionDeltaNeutral PositionKind = "delta_neutral"
)

// PositionState is the composite position lifecycle.
type PositionState string

const (
	StateOpening    PositionState = "opening"
	StateOpen       PositionState = "open"
	StateClosed     PositionState = "closed"
	StateLiquidated PositionState = "liquidated"
)

// Terminal reports whether the position can no longer change state.
func (s PositionState) Terminal() bool {
	return s == StateClosed || s == StateLiquidated
}

// TransferDirection is the cash-flow direction of a transaction.
type TransferDirection string

const (
	TransferDeposit    TransferDirection = "deposit"
	TransferWithdrawal TransferDirection = "withdrawal"
)

// Valid reports whether d is a known transfer direction.
func (d TransferDirection) Valid() bool {
	return d == TransferDeposit || d == TransferWithdrawal
}

// Transaction statuses as reported by the venue or recorded locally.
const (
	TxPending   = "pending"
	TxConfirmed = "confirmed"
	TxFailed    = "failed"
)

// DexAccount links an authenticated user to one credential/address on one
// venue. A user may hold many accounts across venues. Unique by
// (venue, address).
type DexAccount struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Venue     Venue     `json:"venue" db:"venue"`
	Address   string    `json:"address" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Order is the local record of one venue order. ExternalOrderID is the
// venue-assigned dedup key once known; before that ClientOrderID identifies
// locally originated orders. Version guards concurrent writers: every
// accepted mutation increments it.
type Order struct {
	ID               string           `json:"id" db:"id"`
	DexAccountID     string           `json:"dex_account_id" db:"dex_account_id"`
	Venue            Venue            `json:"venue" db:"venue"`
	ExternalOrderID  string           `json:"external_order_id,omitempty" db:"external_order_id"`
	ClientOrderID    string           `json:"client_order_id,omitempty" db:"client_order_id"`
	MarketIndex      int              `json:"market_index" db:"market_index"`
	Direction        Direction        `json:"direction" db:"direction"`
	OrderType        OrderType        `json:"order_type" db:"order_type"`
	Price            decimal.Decimal  `json:"price" db:"price"`                 // zero unless a limit variant
	TriggerPrice     decimal.Decimal  `json:"trigger_price" db:"trigger_price"` // zero unless a trigger variant
	TriggerCondition TriggerCondition `json:"trigger_condition,omitempty" db:"trigger_condition"`
	BaseAssetAmount  decimal.Decimal  `json:"base_asset_amount" db:"base_asset_amount"`
	FilledAmount     decimal.Decimal  `json:"filled_amount" db:"filled_amount"`
	AvgFillPrice     decimal.Decimal  `json:"avg_fill_price" db:"avg_fill_price"` // defined once FilledAmount > 0
	Status           OrderStatus      `json:"status" db:"status"`
	Version          int64            `json:"version" db:"version"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// Position groups one or two orders into a tracked exposure. A delta-neutral
// position owns exactly two legs, one long and one short, each on a different
// venue. HedgeBroken marks a hedge whose leg was liquidated or failed while
// the other leg was live; such positions are terminal and resolved manually.
type Position struct {
	ID          string            `json:"id" db:"id"`
	UserID      string            `json:"user_id" db:"user_id"`
	Kind        PositionKind      `json:"kind" db:"kind"`
	LegOrderIDs []string          `json:"leg_order_ids" db:"leg_order_ids"`
	State       PositionState     `json:"state" db:"state"`
	HedgeBroken bool              `json:"hedge_broken" db:"hedge_broken"`
	Name        string            `json:"name" db:"name"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
	Version     int64             `json:"version" db:"version"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
	ClosedAt    *time.Time        `json:"closed_at,omitempty" db:"closed_at"`
}

// PositionSnapshot is an immutable capture of a position's valuation at one
// instant. Once written these are never modified or deleted.
type PositionSnapshot struct {
	ID            string          `json:"id" db:"id"`
	PositionID    string          `json:"position_id" db:"position_id"`
	CapturedAt    time.Time       `json:"captured_at" db:"captured_at"`
	Size          decimal.Decimal `json:"size" db:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price" db:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price" db:"mark_price"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
}

// Transaction is one deposit or withdrawal against a venue account.
// ExternalTxSignature is the dedup key: recording the same signature for the
// same account twice is a no-op.
type Transaction struct {
	ID                  string            `json:"id" db:"id"`
	DexAccountID        string            `json:"dex_account_id" db:"dex_account_id"`
	Direction           TransferDirection `json:"direction" db:"direction"`
	MarketIndex         int               `json:"market_index" db:"market_index"`
	Amount              decimal.Decimal   `json:"amount" db:"amount"`
	TokenSymbol         string            `json:"token_symbol" db:"token_symbol"`
	ExternalTxSignature string            `json:"external_tx_signature" db:"external_tx_signature"`
	Status              string            `json:"status" db:"status"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}

// --- normalized venue shapes (produced by venue clients, never persisted) ---

// VenueOrder is a venue-reported order translated into the local vocabulary.
type VenueOrder struct {
	ExternalOrderID  string
	ClientOrderID    string
	MarketIndex      int
	Direction        Direction
	OrderType        OrderType
	Price            decimal.Decimal
	TriggerPrice     decimal.Decimal
	TriggerCondition TriggerCondition
	BaseAssetAmount  decimal.Decimal
	FilledAmount     decimal.Decimal
	AvgFillPrice     decimal.Decimal
	Status           OrderStatus
	UpdatedAt        time.Time
}

// VenuePosition is a venue-reported open position. Size is signed: positive
// long, negative short.
type VenuePosition struct {
	Venue         Venue           `json:"venue"`
	MarketIndex   int             `json:"market_index"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	Liquidated    bool            `json:"liquidated"`
}

// VenueFill is one execution reported by a venue.
type VenueFill struct {
	Venue           Venue           `json:"venue"`
	ExternalOrderID string          `json:"external_order_id"`
	ExternalTradeID string          `json:"external_trade_id"`
	MarketIndex     int             `json:"market_index"`
	Direction       Direction       `json:"direction"`
	Amount          decimal.Decimal `json:"amount"`
	Price           decimal.Decimal `json:"price"`
	Fee             decimal.Decimal `json:"fee"`
	ExecutedAt      time.Time       `json:"executed_at"`
}

// VenueTransfer is one deposit or withdrawal reported by a venue ledger.
type VenueTransfer struct {
	Venue               Venue
	Direction           TransferDirection
	MarketIndex         int
	Amount              decimal.Decimal
	TokenSymbol         string
	ExternalTxSignature string
	Status              string
	OccurredAt          time.Time
}
