// README: Fare rate store backed by PostgreSQL (optional overrides of the default table).
package pricing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"rideflow/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ListRates(ctx context.Context) ([]Rate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT vehicle_class, base_fare, per_km, per_minute
		FROM fare_rates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rate
	for rows.Next() {
		var r Rate
		var class string
		if err := rows.Scan(&class, &r.BaseFare, &r.PerKm, &r.PerMinute); err != nil {
			return nil, err
		}
		r.Class = types.VehicleClass(class)
		out = append(out, r)
	}
	return out, rows.Err()
}
