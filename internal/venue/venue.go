// Package venue defines the read surface shared by venue gateway clients.
// Implementations translate each venue's wire vocabulary into the model
// package's types; callers never see venue-native payloads.
package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deltadesk/position-engine/internal/model"
)

var (
	// ErrUnavailable marks transient venue failures: transport errors,
	// 5xx responses and rate limiting. Callers retry with backoff; the
	// error never surfaces to API clients.
	ErrUnavailable = errors.New("venue: unavailable")

	// ErrUnknownVenue is returned when no client is registered for the
	// requested venue.
	ErrUnknownVenue = errors.New("venue: unknown venue")
)

// Client reads one venue's account activity.
type Client interface {
	// Venue names the venue this client serves.
	Venue() model.Venue

	// ListOrders returns the account's resting and triggerable orders.
	ListOrders(ctx context.Context, address string) ([]model.VenueOrder, error)

	// ListPositions returns the account's open positions with current
	// mark valuations.
	ListPositions(ctx context.Context, address string) ([]model.VenuePosition, error)

	// ListFills returns executions at or after since.
	ListFills(ctx context.Context, address string, since time.Time) ([]model.VenueFill, error)

	// ListTransfers returns deposits and withdrawals at or after since.
	ListTransfers(ctx context.Context, address string, since time.Time) ([]model.VenueTransfer, error)
}

// Registry resolves venue clients by venue name.
type Registry struct {
	clients map[model.Venue]Client
}

// NewRegistry indexes the given clients by their venue.
func NewRegistry(clients ...Client) *Registry {
	m := make(map[model.Venue]Client, len(clients))
	for _, c := range clients {
		m[c.Venue()] = c
	}
	return &Registry{clients: m}
}

// For returns the client serving v.
func (r *Registry) For(v model.Venue) (Client, error) {
	c, ok := r.clients[v]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, v)
	}
	return c, nil
}

// Venues lists the venues with a registered client.
func (r *Registry) Venues() []model.Venue {
	out := make([]model.Venue, 0, len(r.clients))
	for v := range r.clients {
		out = append(out, v)
	}
	return out
}
