// README: Pricing service computes fare estimates from the fare table.
package pricing

import (
	"context"
	"math"

	"rideflow/internal/types"
)

var ErrInvalidVehicleClass = types.ErrInvalidVehicleClass

type Service struct {
	table    Table
	currency string
}

// NewService copies the table; it is read-only afterwards.
func NewService(table Table, currency string) *Service {
	if table == nil {
		table = DefaultTable()
	}
	cp := make(Table, len(table))
	for k, v := range table {
		cp[k] = v
	}
	if currency == "" {
		currency = "INR"
	}
	return &Service{table: cp, currency: currency}
}

// NewServiceFromStore starts from the default table and applies any rows
// present in the fare_rates table.
func NewServiceFromStore(ctx context.Context, store *Store, currency string) (*Service, error) {
	table := DefaultTable()
	if store != nil {
		rates, err := store.ListRates(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range rates {
			class, err := types.ParseVehicleClass(string(r.Class))
			if err != nil {
				continue
			}
			r.Class = class
			table[class] = r
		}
	}
	return NewService(table, currency), nil
}

func (s *Service) Currency() string {
	return s.currency
}

// Estimate returns round(base + km*perKm + min*perMinute), rounding half up.
func (s *Service) Estimate(distanceKm, durationMin float64, class types.VehicleClass) (int64, error) {
	c, err := class.Normalize()
	if err != nil {
		return 0, err
	}
	rate, ok := s.table[c]
	if !ok {
		return 0, ErrInvalidVehicleClass
	}
	distanceKm = math.Max(distanceKm, 0)
	durationMin = math.Max(durationMin, 0)
	raw := rate.BaseFare + distanceKm*rate.PerKm + durationMin*rate.PerMinute
	return int64(math.Floor(raw + 0.5)), nil
}

// EstimateAll quotes every supported class, including the moto alias.
func (s *Service) EstimateAll(distanceKm, durationMin float64) map[types.VehicleClass]int64 {
	out := make(map[types.VehicleClass]int64, len(types.SupportedClasses))
	for _, c := range types.SupportedClasses {
		fare, err := s.Estimate(distanceKm, durationMin, c)
		if err != nil {
			continue
		}
		out[c] = fare
	}
	return out
}
