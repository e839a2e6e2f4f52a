// README: Location service handles driver position reports and the radius dispatch query.
package location

import (
	"context"
	"errors"
	"time"

	"rideflow/internal/types"
)

var ErrBadRequest = errors.New("bad location update")

type Service struct {
	registry Registry
	now      func() time.Time
}

func NewService(registry Registry) *Service {
	return &Service{registry: registry, now: time.Now}
}

// UpdateDriverLocation overwrites the driver's record; the last write observed wins.
func (s *Service) UpdateDriverLocation(ctx context.Context, u Update) (Record, error) {
	if u.DriverID == "" {
		return Record{}, ErrBadRequest
	}
	class, err := types.ParseVehicleClass(u.VehicleClass)
	if err != nil {
		return Record{}, err
	}
	pos := types.Point{Lat: u.Lat, Lng: u.Lng}
	if !pos.Valid() {
		return Record{}, types.ErrInvalidPoint
	}
	rec := Record{
		DriverID:     u.DriverID,
		VehicleClass: class,
		Position:     pos,
		UpdatedAt:    s.now(),
	}
	if err := s.registry.Upsert(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) RemoveDriver(ctx context.Context, id types.ID) error {
	return s.registry.Remove(ctx, id)
}

func (s *Service) GetDriver(ctx context.Context, id types.ID) (Record, error) {
	return s.registry.Get(ctx, id)
}

// FindCandidates returns drivers of the class whose last location is within
// radiusKm great-circle distance of the pickup, boundary inclusive. The result
// carries no ordering guarantee.
func (s *Service) FindCandidates(ctx context.Context, lat, lng, radiusKm float64, class types.VehicleClass) ([]types.ID, error) {
	c, err := class.Normalize()
	if err != nil {
		return nil, err
	}
	center := types.Point{Lat: lat, Lng: lng}
	if !center.Valid() || radiusKm < 0 {
		return nil, ErrBadRequest
	}
	recs, err := s.registry.Scan(ctx, center, radiusKm, c)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, 0, len(recs))
	seen := make(map[types.ID]bool, len(recs))
	for _, r := range recs {
		if seen[r.DriverID] {
			continue
		}
		if r.VehicleClass != c {
			continue
		}
		if haversineKm(lat, lng, r.Position.Lat, r.Position.Lng) <= radiusKm {
			seen[r.DriverID] = true
			ids = append(ids, r.DriverID)
		}
	}
	return ids, nil
}
