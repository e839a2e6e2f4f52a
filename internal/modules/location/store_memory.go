// README: In-process driver registry for single-node runs and tests.
package location

import (
	"context"
	"sync"

	"rideflow/internal/types"
)

type MemoryRegistry struct {
	mu      sync.RWMutex
	drivers map[types.ID]Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{drivers: make(map[types.ID]Record)}
}

func (m *MemoryRegistry) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[rec.DriverID] = rec
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, id types.ID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.drivers[id]
	if !ok {
		return Record{}, ErrDriverNotFound
	}
	return rec, nil
}

func (m *MemoryRegistry) Remove(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, id)
	return nil
}

func (m *MemoryRegistry) Scan(_ context.Context, center types.Point, radiusKm float64, class types.VehicleClass) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.drivers {
		if rec.VehicleClass != class {
			continue
		}
		if DistanceKm(center, rec.Position) <= radiusKm*scanPadFactor+scanPadKm {
			out = append(out, rec)
		}
	}
	return out, nil
}
