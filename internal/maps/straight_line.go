// README: Offline route/geocode fallback used when no Maps API key is configured.
package maps

import (
	"context"
	"math"

	"rideflow/internal/modules/location"
	"rideflow/internal/types"
)

// StraightLine estimates routes from the great-circle distance between
// coordinate inputs. Addresses that are not coordinates cannot be resolved.
type StraightLine struct {
	// SpeedKmh is the assumed average driving speed.
	SpeedKmh float64
}

func NewStraightLine(speedKmh float64) *StraightLine {
	if speedKmh <= 0 {
		speedKmh = 30
	}
	return &StraightLine{SpeedKmh: speedKmh}
}

func (s *StraightLine) GetDistanceAndDuration(_ context.Context, origin, destination string) (Route, error) {
	a, err := types.ParsePoint(origin)
	if err != nil {
		return Route{}, ErrRouteNotFound
	}
	b, err := types.ParsePoint(destination)
	if err != nil {
		return Route{}, ErrRouteNotFound
	}
	km := location.DistanceKm(a, b)
	return Route{
		DistanceMeters:  int(math.Round(km * 1000)),
		DurationSeconds: int(math.Round(km / s.SpeedKmh * 3600)),
	}, nil
}

func (s *StraightLine) ResolveCoordinates(_ context.Context, address string) (types.Point, error) {
	p, err := types.ParsePoint(address)
	if err != nil {
		return types.Point{}, ErrAddressNotResolvable
	}
	return p, nil
}
