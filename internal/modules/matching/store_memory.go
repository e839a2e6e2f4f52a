// README: In-memory dispatch bookkeeping for single-process deployments and tests.
package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"rideflow/internal/types"
)

// MemoryStore drops a ride's entries once it has been widened, and any entry
// older than keyTTL on the next dispatch, matching the Redis key expiry.
type MemoryStore struct {
	mu         sync.Mutex
	recordedAt map[types.ID]time.Time
	notified   map[types.ID]map[types.ID]bool
	awaiting   map[types.ID]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recordedAt: make(map[types.ID]time.Time),
		notified:   make(map[types.ID]map[types.ID]bool),
		awaiting:   make(map[types.ID]time.Time),
	}
}

func (m *MemoryStore) RecordDispatch(_ context.Context, d Dispatch, awaitBroadcast bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(d.DispatchedAt.Add(-keyTTL))
	m.recordedAt[d.RideID] = d.DispatchedAt
	m.addNotified(d.RideID, d.Notified)
	if awaitBroadcast {
		m.awaiting[d.RideID] = d.DispatchedAt
	}
	return nil
}

func (m *MemoryStore) NotifiedDrivers(_ context.Context, rideID types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ID, 0, len(m.notified[rideID]))
	for id := range m.notified[rideID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemoryStore) DueForBroadcast(_ context.Context, before time.Time, limit int) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ID
	for id, at := range m.awaiting {
		if !at.After(before) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.awaiting[out[i]].Before(m.awaiting[out[j]]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkBroadcast is the last write for a ride, so its bookkeeping is dropped.
func (m *MemoryStore) MarkBroadcast(_ context.Context, rideID types.ID, _ []types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forget(rideID)
	return nil
}

func (m *MemoryStore) expire(cutoff time.Time) {
	for id, at := range m.recordedAt {
		if at.Before(cutoff) {
			m.forget(id)
		}
	}
}

func (m *MemoryStore) forget(rideID types.ID) {
	delete(m.recordedAt, rideID)
	delete(m.notified, rideID)
	delete(m.awaiting, rideID)
}

func (m *MemoryStore) addNotified(rideID types.ID, drivers []types.ID) {
	if len(drivers) == 0 {
		return
	}
	set, ok := m.notified[rideID]
	if !ok {
		set = make(map[types.ID]bool, len(drivers))
		m.notified[rideID] = set
	}
	for _, d := range drivers {
		set[d] = true
	}
}
