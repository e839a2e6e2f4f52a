package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"rideflow/internal/types"
)

var (
	ErrRouteNotFound        = errors.New("route not found")
	ErrAddressNotResolvable = errors.New("address not resolvable")
)

// Route is a driving distance/duration pair between two points.
type Route struct {
	DistanceMeters  int
	DurationSeconds int
}

func (r Route) DistanceKm() float64 {
	return float64(r.DistanceMeters) / 1000
}

func (r Route) DurationMin() float64 {
	return float64(r.DurationSeconds) / 60
}

type directionsAPI interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with the Google Directions API.
type RouteService struct {
	client directionsAPI
	region string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, region: region}, nil
}

// GetDistanceAndDuration returns the first driving route's distance and duration.
func (s *RouteService) GetDistanceAndDuration(ctx context.Context, origin, destination string) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      waypoint(origin),
		Destination: waypoint(destination),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		if isNoResult(err) {
			return Route{}, ErrRouteNotFound
		}
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, ErrRouteNotFound
	}

	leg := routes[0].Legs[0]
	return Route{
		DistanceMeters:  leg.Distance.Meters,
		DurationSeconds: int(leg.Duration / time.Second),
	}, nil
}

// waypoint rewrites coordinates in any accepted form as "lat,lng"; other
// strings are addresses and go through unchanged.
func waypoint(s string) string {
	if p, err := types.ParsePoint(s); err == nil {
		return p.String()
	}
	return strings.TrimSpace(s)
}

// isNoResult reports API statuses that mean "nothing matched" rather than a failure.
func isNoResult(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ZERO_RESULTS") || strings.Contains(msg, "NOT_FOUND")
}
