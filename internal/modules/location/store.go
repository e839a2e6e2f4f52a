// README: Driver registry backed by Redis GEO (one sorted set per vehicle class) plus a metadata hash.
package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rideflow/internal/types"
)

var ErrDriverNotFound = errors.New("driver location not found")

// Registry is the keyed driver store the dispatch query scans.
type Registry interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id types.ID) (Record, error)
	Remove(ctx context.Context, id types.ID) error
	// Scan returns drivers of the given class roughly within radiusKm of center.
	// Callers apply the exact distance filter.
	Scan(ctx context.Context, center types.Point, radiusKm float64, class types.VehicleClass) ([]Record, error)
}

const (
	driverGeoKeyPrefix  = "geo:drivers:%s"
	driverMetaKeyPrefix = "driver:location:%s"
	// Redis uses a slightly different earth radius; pad the search so the
	// exact haversine filter sees every boundary candidate.
	scanPadFactor = 1.01
	scanPadKm     = 0.05
)

var indexedClasses = []types.VehicleClass{types.VehicleCar, types.VehicleAuto, types.VehicleMotorcycle}

type RedisRegistry struct {
	redis *redis.Client
}

func NewRedisRegistry(redis *redis.Client) *RedisRegistry {
	return &RedisRegistry{redis: redis}
}

func (s *RedisRegistry) Upsert(ctx context.Context, rec Record) error {
	pipe := s.redis.TxPipeline()
	for _, c := range indexedClasses {
		if c != rec.VehicleClass {
			pipe.ZRem(ctx, geoKey(c), string(rec.DriverID))
		}
	}
	pipe.GeoAdd(ctx, geoKey(rec.VehicleClass), &redis.GeoLocation{
		Name:      string(rec.DriverID),
		Longitude: rec.Position.Lng,
		Latitude:  rec.Position.Lat,
	})
	pipe.HSet(ctx, metaKey(rec.DriverID), map[string]any{
		"class":      string(rec.VehicleClass),
		"lat":        strconv.FormatFloat(rec.Position.Lat, 'f', -1, 64),
		"lng":        strconv.FormatFloat(rec.Position.Lng, 'f', -1, 64),
		"updated_at": rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisRegistry) Get(ctx context.Context, id types.ID) (Record, error) {
	vals, err := s.redis.HGetAll(ctx, metaKey(id)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(vals) == 0 {
		return Record{}, ErrDriverNotFound
	}
	rec := Record{DriverID: id, VehicleClass: types.VehicleClass(vals["class"])}
	if rec.Position.Lat, err = strconv.ParseFloat(vals["lat"], 64); err != nil {
		return Record{}, fmt.Errorf("driver %s: bad lat: %w", id, err)
	}
	if rec.Position.Lng, err = strconv.ParseFloat(vals["lng"], 64); err != nil {
		return Record{}, fmt.Errorf("driver %s: bad lng: %w", id, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}

func (s *RedisRegistry) Remove(ctx context.Context, id types.ID) error {
	pipe := s.redis.TxPipeline()
	for _, c := range indexedClasses {
		pipe.ZRem(ctx, geoKey(c), string(id))
	}
	pipe.Del(ctx, metaKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisRegistry) Scan(ctx context.Context, center types.Point, radiusKm float64, class types.VehicleClass) ([]Record, error) {
	results, err := s.redis.GeoSearchLocation(ctx, geoKey(class), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm*scanPadFactor + scanPadKm,
			RadiusUnit: "km",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(results))
	for _, r := range results {
		out = append(out, Record{
			DriverID:     types.ID(r.Name),
			VehicleClass: class,
			Position:     types.Point{Lat: r.Latitude, Lng: r.Longitude},
		})
	}
	return out, nil
}

func geoKey(class types.VehicleClass) string {
	return fmt.Sprintf(driverGeoKeyPrefix, string(class))
}

func metaKey(id types.ID) string {
	return fmt.Sprintf(driverMetaKeyPrefix, string(id))
}
