// Package market holds the static registry of perpetual markets the engine
// trades across venues. Orders carry a venue-neutral market index; the
// registry maps that index to venue-native identifiers (Drift market
// indexes, Hyperliquid coin names) and backs order validation.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownMarket = errors.New("market: unknown market")
	ErrInvalidSymbol = errors.New("market: invalid symbol format")
	ErrSizeBelowMin  = errors.New("market: order size below market minimum")
)

// symbolRegex matches: {BASE}-PERP
// Example: SOL-PERP
var symbolRegex = regexp.MustCompile(`^([A-Z0-9]+)-PERP$`)

// Market describes one perpetual market. Index follows the Drift program's
// market index numbering; Coin is the Hyperliquid identifier for the same
// underlying.
type Market struct {
	Index        int             `json:"index"`
	Symbol       string          `json:"symbol"`
	Base         string          `json:"base"`
	Coin         string          `json:"coin"`
	MinOrderSize decimal.Decimal `json:"min_order_size"`
}

// Registry resolves markets by index, symbol, or Hyperliquid coin.
// Built once at startup and read-only afterwards.
type Registry struct {
	byIndex  map[int]Market
	bySymbol map[string]Market
	byCoin   map[string]Market
}

// NewRegistry builds a registry from an explicit market list.
func NewRegistry(markets []Market) *Registry {
	r := &Registry{
		byIndex:  make(map[int]Market, len(markets)),
		bySymbol: make(map[string]Market, len(markets)),
		byCoin:   make(map[string]Market, len(markets)),
	}
	for _, m := range markets {
		r.byIndex[m.Index] = m
		r.bySymbol[m.Symbol] = m
		r.byCoin[m.Coin] = m
	}
	return r
}

// Default returns the registry of markets supported on both venues.
// Indexes follow Drift mainnet numbering.
func Default() *Registry {
	return NewRegistry([]Market{
		{Index: 0, Symbol: "SOL-PERP", Base: "SOL", Coin: "SOL", MinOrderSize: decimal.NewFromFloat(0.1)},
		{Index: 1, Symbol: "BTC-PERP", Base: "BTC", Coin: "BTC", MinOrderSize: decimal.NewFromFloat(0.0001)},
		{Index: 2, Symbol: "ETH-PERP", Base: "ETH", Coin: "ETH", MinOrderSize: decimal.NewFromFloat(0.001)},
		{Index: 6, Symbol: "ARB-PERP", Base: "ARB", Coin: "ARB", MinOrderSize: decimal.NewFromFloat(1)},
		{Index: 7, Symbol: "DOGE-PERP", Base: "DOGE", Coin: "DOGE", MinOrderSize: decimal.NewFromFloat(10)},
		{Index: 8, Symbol: "BNB-PERP", Base: "BNB", Coin: "BNB", MinOrderSize: decimal.NewFromFloat(0.01)},
	})
}

// ByIndex looks a market up by its venue-neutral index.
func (r *Registry) ByIndex(index int) (Market, error) {
	m, ok := r.byIndex[index]
	if !ok {
		return Market{}, fmt.Errorf("%w: index %d", ErrUnknownMarket, index)
	}
	return m, nil
}

// BySymbol looks a market up by its {BASE}-PERP symbol.
func (r *Registry) BySymbol(symbol string) (Market, error) {
	m, ok := r.bySymbol[symbol]
	if !ok {
		return Market{}, fmt.Errorf("%w: symbol %s", ErrUnknownMarket, symbol)
	}
	return m, nil
}

// ByCoin looks a market up by its Hyperliquid coin name.
func (r *Registry) ByCoin(coin string) (Market, error) {
	m, ok := r.byCoin[coin]
	if !ok {
		return Market{}, fmt.Errorf("%w: coin %s", ErrUnknownMarket, coin)
	}
	return m, nil
}

// Validate checks that the index is registered and the size meets the
// market's minimum order size.
func (r *Registry) Validate(index int, size decimal.Decimal) error {
	m, err := r.ByIndex(index)
	if err != nil {
		return err
	}
	if size.LessThan(m.MinOrderSize) {
		return fmt.Errorf("%w: %s < %s for %s",
			ErrSizeBelowMin, size, m.MinOrderSize, m.Symbol)
	}
	return nil
}

// All returns every registered market ordered by index.
func (r *Registry) All() []Market {
	out := make([]Market, 0, len(r.byIndex))
	for _, m := range r.byIndex {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ParseSymbol splits a {BASE}-PERP symbol into its base asset.
func ParseSymbol(symbol string) (string, error) {
	matches := symbolRegex.FindStringSubmatch(symbol)
	if matches == nil {
		return "", fmt.Errorf("%w: %s (expected {BASE}-PERP)", ErrInvalidSymbol, symbol)
	}
	return matches[1], nil
}
