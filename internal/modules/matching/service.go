// README: Matching service fans a new ride out to nearby drivers and widens unanswered offers.
package matching

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"rideflow/internal/config"
	"rideflow/internal/maps"
	"rideflow/internal/metrics"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

type Locator interface {
	FindCandidates(ctx context.Context, lat, lng, radiusKm float64, class types.VehicleClass) ([]types.ID, error)
}

type Geocoder interface {
	ResolveCoordinates(ctx context.Context, address string) (types.Point, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipient types.ID, event string, payload any) error
}

// RideReader lets the widen pass skip rides that are no longer pending.
type RideReader interface {
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
}

type Service struct {
	store    Store
	locator  Locator
	geocoder Geocoder
	notifier Notifier
	rides    RideReader
	cfg      config.MatchingConfig
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, locator Locator, geocoder Geocoder, notifier Notifier, cfg config.MatchingConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		locator:  locator,
		geocoder: geocoder,
		notifier: notifier,
		cfg:      cfg,
		log:      logger.With("component", "matching"),
		now:      time.Now,
	}
}

// SetRideReader enables the widen pass. The ride service is built after the
// dispatcher, so it is wired in afterwards.
func (s *Service) SetRideReader(r RideReader) {
	s.rides = r
}

// Dispatch resolves the pickup, finds candidates in range and offers them the
// ride. Per-driver notification failures are logged, not returned.
func (s *Service) Dispatch(ctx context.Context, offer ride.Offer) error {
	d, err := s.dispatch(ctx, offer)
	if err != nil {
		metrics.DispatchFailures.Inc()
		return err
	}
	s.log.Info("ride dispatched",
		"ride_id", offer.RideID,
		"candidates", len(d.Candidates),
		"notified", len(d.Notified),
	)
	return nil
}

func (s *Service) dispatch(ctx context.Context, offer ride.Offer) (Dispatch, error) {
	pickup, err := s.resolvePickup(ctx, offer.Pickup)
	if err != nil {
		return Dispatch{}, err
	}
	candidates, err := s.locator.FindCandidates(ctx, pickup.Lat, pickup.Lng, s.cfg.RadiusKm, offer.VehicleClass)
	if err != nil {
		return Dispatch{}, err
	}

	selected := candidates
	if s.cfg.MaxOffers > 0 {
		selected = PickRandomDrivers(candidates, s.cfg.MaxOffers)
	}
	metrics.DispatchCandidates.Observe(float64(len(selected)))
	s.offer(ctx, selected, offer)

	d := Dispatch{
		RideID:       offer.RideID,
		Candidates:   candidates,
		Notified:     selected,
		DispatchedAt: s.now(),
	}
	awaitBroadcast := len(selected) < len(candidates)
	if err := s.store.RecordDispatch(ctx, d, awaitBroadcast); err != nil {
		return d, err
	}
	return d, nil
}

func (s *Service) resolvePickup(ctx context.Context, pickup string) (types.Point, error) {
	if p, err := types.ParsePoint(pickup); err == nil {
		return p, nil
	}
	if s.geocoder == nil {
		return types.Point{}, maps.ErrAddressNotResolvable
	}
	return s.geocoder.ResolveCoordinates(ctx, pickup)
}

func (s *Service) offer(ctx context.Context, drivers []types.ID, offer ride.Offer) {
	if s.notifier == nil {
		return
	}
	for _, d := range drivers {
		if err := s.notifier.Notify(ctx, d, ride.EventNewRide, offer); err != nil {
			s.log.Warn("offer ride", "ride_id", offer.RideID, "driver_id", d, "err", err)
		}
	}
}

// RunBroadcaster widens sampled offers that stayed unanswered for BroadcastDelay.
func (s *Service) RunBroadcaster(ctx context.Context) {
	if s.cfg.MaxOffers <= 0 || s.rides == nil {
		return
	}
	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	if tick <= 0 {
		tick = 3 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickBroadcast(ctx)
		}
	}
}

func (s *Service) tickBroadcast(ctx context.Context) {
	due, err := s.store.DueForBroadcast(ctx, s.now().Add(-s.cfg.BroadcastDelay), broadcastBatch)
	if err != nil {
		s.log.Warn("list rides due for broadcast", "err", err)
		return
	}
	for _, id := range due {
		if err := s.widen(ctx, id); err != nil {
			s.log.Warn("widen ride offer", "ride_id", id, "err", err)
		}
	}
}

func (s *Service) widen(ctx context.Context, id types.ID) error {
	r, err := s.rides.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != ride.StatusPending {
		return s.store.MarkBroadcast(ctx, id, nil)
	}
	offer := r.Offer()
	pickup, err := s.resolvePickup(ctx, offer.Pickup)
	if err != nil {
		return err
	}
	candidates, err := s.locator.FindCandidates(ctx, pickup.Lat, pickup.Lng, s.cfg.RadiusKm, offer.VehicleClass)
	if err != nil {
		return err
	}
	already, err := s.store.NotifiedDrivers(ctx, id)
	if err != nil {
		return err
	}
	seen := make(map[types.ID]bool, len(already))
	for _, d := range already {
		seen[d] = true
	}
	var fresh []types.ID
	for _, d := range candidates {
		if !seen[d] {
			fresh = append(fresh, d)
		}
	}
	s.offer(ctx, fresh, offer)
	return s.store.MarkBroadcast(ctx, id, fresh)
}

// PickRandomDrivers returns up to n distinct drivers sampled uniformly from
// pool. The pool is not modified.
func PickRandomDrivers(pool []types.ID, n int) []types.ID {
	if n <= 0 || len(pool) == 0 {
		return []types.ID{}
	}
	cp := make([]types.ID, len(pool))
	copy(cp, pool)
	if n >= len(cp) {
		return cp
	}
	for i := 0; i < n; i++ {
		j := i + rand.IntN(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:n]
}
