// README: In-memory ride repository; a single mutex makes each conditional update atomic.
package ride

import (
	"context"
	"sort"
	"sync"
	"time"

	"rideflow/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	rides  map[types.ID]*Ride
	events []Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[types.ID]*Ride)}
}

func (s *MemoryStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rides[r.ID] = r.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	return r.clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, u StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[u.ID]
	if !ok || r.Status != u.From {
		return false, nil
	}
	if u.ExpectDriver != nil && !r.BoundTo(*u.ExpectDriver) {
		return false, nil
	}
	if u.Payment != nil && !s.canSettle(r, *u.Payment) {
		return false, nil
	}

	r.Status = u.To
	r.StatusVersion++
	if r.DriverID == nil && u.BindDriver != nil {
		r.DriverID = clonePtr(u.BindDriver)
	}
	if u.CancelReason != nil {
		r.CancelReason = clonePtr(u.CancelReason)
	}
	if u.Payment != nil {
		setPayment(r, *u.Payment)
	}
	at := u.At
	switch u.To {
	case StatusAccepted:
		r.AcceptedAt = &at
	case StatusOngoing:
		r.StartedAt = &at
	case StatusCompleted:
		r.CompletedAt = &at
	case StatusCancelled:
		r.CancelledAt = &at
	}
	return true, nil
}

func (s *MemoryStore) SetPaymentOrder(_ context.Context, id types.ID, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.PaymentID != nil || (r.Status != StatusOngoing && r.Status != StatusCompleted) {
		return false, nil
	}
	r.PaymentOrderID = &orderID
	return true, nil
}

func (s *MemoryStore) RecordPayment(_ context.Context, id types.ID, p Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.Status != StatusCompleted || !s.canSettle(r, p) {
		return false, nil
	}
	setPayment(r, p)
	r.StatusVersion++
	return true, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev := *e
	ev.ID = s.nextID
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Ride
	for _, r := range s.rides {
		if r.Status == StatusPending && r.BookedAt.Before(cutoff) {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.Before(out[j].BookedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns the audit trail recorded for a ride, oldest first.
func (s *MemoryStore) Events(id types.ID) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.RideID == id {
			out = append(out, e)
		}
	}
	return out
}

// canSettle mirrors the table guards: the ride is unpaid, the order is the
// one bound to it and the payment id is not used by any other ride.
func (s *MemoryStore) canSettle(r *Ride, p Payment) bool {
	if r.PaymentID != nil || r.PaymentOrderID == nil || *r.PaymentOrderID != p.OrderID {
		return false
	}
	for _, other := range s.rides {
		if other.PaymentID != nil && *other.PaymentID == p.PaymentID {
			return false
		}
	}
	return true
}

func setPayment(r *Ride, p Payment) {
	r.PaymentOrderID = &p.OrderID
	r.PaymentID = &p.PaymentID
	r.PaymentSignature = &p.Signature
}
