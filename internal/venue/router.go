// Package venue implements VenueInterface: the per-venue adapters that
// execute orders and report position state, plus the router that dispatches
// an order to the right one (spec §4.4).
package venue

import (
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/ports"
)

// Router maps a venue id to its execution and position-read interfaces,
// mirroring the teacher's per-adapter package layout (one file per venue
// concern) behind a single dispatch point.
type Router struct {
	single map[string]ports.VenueExecutor
	group  map[string]ports.VenueGroupExecutor
	reader map[string]ports.PositionReader
}

// NewRouter constructs an empty Router; venues are registered via Register*.
func NewRouter() *Router {
	return &Router{
		single: make(map[string]ports.VenueExecutor),
		group:  make(map[string]ports.VenueGroupExecutor),
		reader: make(map[string]ports.PositionReader),
	}
}

// RegisterExecutor wires a venue's single-order executor.
func (r *Router) RegisterExecutor(venue string, e ports.VenueExecutor) { r.single[venue] = e }

// RegisterGroupExecutor wires a venue's atomic-group executor.
func (r *Router) RegisterGroupExecutor(venue string, e ports.VenueGroupExecutor) { r.group[venue] = e }

// RegisterReader wires a venue's position-read interface.
func (r *Router) RegisterReader(venue string, e ports.PositionReader) { r.reader[venue] = e }

// RouteSingle returns the executor responsible for order.TargetVenue.
func (r *Router) RouteSingle(order domain.Order) (ports.VenueExecutor, bool) {
	e, ok := r.single[order.TargetVenue]
	return e, ok
}

// RouteGroup returns the atomic-group executor for the given venue.
func (r *Router) RouteGroup(venue string) (ports.VenueGroupExecutor, bool) {
	e, ok := r.group[venue]
	return e, ok
}

// Readers exposes the registered position readers, keyed by venue, for
// PositionMonitor.refresh_real in live mode.
func (r *Router) Readers() map[string]ports.PositionReader { return r.reader }
