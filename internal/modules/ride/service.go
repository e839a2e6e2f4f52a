// README: Ride service drives the lifecycle: create, confirm, start, end, cancel and payment.
package ride

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rideflow/internal/maps"
	"rideflow/internal/metrics"
	"rideflow/internal/types"
)

var (
	ErrMissingField         = errors.New("missing required field")
	ErrInvalidVehicleClass  = types.ErrInvalidVehicleClass
	ErrRideNotFound         = errors.New("ride not found")
	ErrInvalidState         = errors.New("invalid state transition")
	ErrNotYourRide          = errors.New("ride is not bound to caller")
	ErrInvalidOtp           = errors.New("invalid otp")
	ErrConsistency          = errors.New("ride state consistency check failed")
	ErrPaymentVerification  = errors.New("payment signature verification failed")
	ErrPaymentsDisabled     = errors.New("payment gateway not configured")
	ErrRouteNotFound        = maps.ErrRouteNotFound
	ErrAddressNotResolvable = maps.ErrAddressNotResolvable
)

type DistanceService interface {
	GetDistanceAndDuration(ctx context.Context, origin, destination string) (maps.Route, error)
}

type FareEstimator interface {
	Estimate(distanceKm, durationMin float64, class types.VehicleClass) (int64, error)
	EstimateAll(distanceKm, durationMin float64) map[types.VehicleClass]int64
	Currency() string
}

type OTPGenerator interface {
	Generate(length int) (string, error)
}

// Dispatcher offers a freshly created ride to nearby drivers.
type Dispatcher interface {
	Dispatch(ctx context.Context, offer Offer) error
}

type Notifier interface {
	Notify(ctx context.Context, recipient types.ID, event string, payload any) error
}

type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

type CancelPolicy string

const (
	// CancelOwner lets only the ride's rider or bound driver cancel.
	CancelOwner CancelPolicy = "owner"
	// CancelAny lets any authenticated caller cancel.
	CancelAny CancelPolicy = "any"
)

type Options struct {
	OTPLength       int
	PendingTTL      time.Duration
	ExpiryInterval  time.Duration
	CancelPolicy    CancelPolicy
	DispatchTimeout time.Duration
}

// Deps groups collaborators. Dispatcher, Notifier, Events and Payments are optional.
type Deps struct {
	Store      Repository
	Distance   DistanceService
	Pricing    FareEstimator
	OTP        OTPGenerator
	Dispatcher Dispatcher
	Notifier   Notifier
	Events     EventPublisher
	Payments   PaymentGateway
	Logger     *slog.Logger
}

type Service struct {
	store      Repository
	distance   DistanceService
	pricing    FareEstimator
	otp        OTPGenerator
	dispatcher Dispatcher
	notifier   Notifier
	events     EventPublisher
	payments   PaymentGateway
	log        *slog.Logger
	opts       Options
	now        func() time.Time
	wg         sync.WaitGroup
}

func NewService(deps Deps, opts Options) *Service {
	if opts.OTPLength <= 0 {
		opts.OTPLength = 6
	}
	if opts.CancelPolicy == "" {
		opts.CancelPolicy = CancelOwner
	}
	if opts.ExpiryInterval <= 0 {
		opts.ExpiryInterval = 30 * time.Second
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      deps.Store,
		distance:   deps.Distance,
		pricing:    deps.Pricing,
		otp:        deps.OTP,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		events:     deps.Events,
		payments:   deps.Payments,
		log:        logger.With("component", "ride"),
		opts:       opts,
		now:        time.Now,
	}
}

type CreateCommand struct {
	RiderID            types.ID
	Pickup             string
	Destination        string
	PickupAddress      string
	DestinationAddress string
	VehicleClass       string
	ScheduledAt        *time.Time
}

type ConfirmCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type StartCommand struct {
	RideID   types.ID
	DriverID types.ID
	OTP      string
}

type EndCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	RideID    types.ID
	Requester types.Identity
	Reason    string
}

type FareQuery struct {
	Pickup      string
	Destination string
}

type FareQuote struct {
	DistanceKm  float64                      `json:"distance_km"`
	DurationMin float64                      `json:"duration_min"`
	Currency    string                       `json:"currency"`
	Fares       map[types.VehicleClass]int64 `json:"fares"`
}

type PaymentOrderCommand struct {
	RideID  types.ID
	RiderID types.ID
}

type PaymentOrder struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type VerifyPaymentCommand struct {
	RideID    types.ID
	RiderID   types.ID
	OrderID   string
	PaymentID string
	Signature string
}

// Create prices the trip, issues the OTP, persists a pending ride and
// starts dispatch in the background. Dispatch failures never fail Create.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	pickup := strings.TrimSpace(cmd.Pickup)
	destination := strings.TrimSpace(cmd.Destination)
	pickupAddress := strings.TrimSpace(cmd.PickupAddress)
	destinationAddress := strings.TrimSpace(cmd.DestinationAddress)
	if cmd.RiderID == "" || pickup == "" || destination == "" || strings.TrimSpace(cmd.VehicleClass) == "" {
		return nil, ErrMissingField
	}
	if pickupAddress == "" || destinationAddress == "" {
		return nil, ErrMissingField
	}
	class, err := types.ParseVehicleClass(cmd.VehicleClass)
	if err != nil {
		return nil, err
	}
	route, err := s.distance.GetDistanceAndDuration(ctx, pickup, destination)
	if err != nil {
		return nil, err
	}
	km, mins := route.DistanceKm(), route.DurationMin()
	fare, err := s.pricing.Estimate(km, mins, class)
	if err != nil {
		return nil, err
	}
	code, err := s.otp.Generate(s.opts.OTPLength)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &Ride{
		ID:                 newID(),
		RiderID:            cmd.RiderID,
		Pickup:             pickup,
		Destination:        destination,
		PickupAddress:      pickupAddress,
		DestinationAddress: destinationAddress,
		VehicleClass:       class,
		Fare:               fare,
		Currency:           s.pricing.Currency(),
		DistanceKm:         km,
		DurationMin:        mins,
		OTP:                code,
		Status:             StatusPending,
		BookedAt:           now,
		ScheduledAt:        cmd.ScheduledAt,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, r.ID, StatusNone, StatusPending, types.ActorRider, &cmd.RiderID, now)
	s.startDispatch(ctx, r.Offer())
	return r, nil
}

// Confirm binds the first driver to win the pending -> accepted update.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) (*Ride, error) {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return nil, ErrMissingField
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, ErrInvalidState
	}
	now := s.now()
	if err := s.transition(ctx, StatusUpdate{
		ID:         r.ID,
		From:       StatusPending,
		To:         StatusAccepted,
		BindDriver: &cmd.DriverID,
		At:         now,
	}); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, r.ID, StatusPending, StatusAccepted, types.ActorDriver, &cmd.DriverID, now)

	updated, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, updated.RiderID, EventRideConfirmed, PublicView(updated))
	return updated, nil
}

// Start requires the bound driver and the rider's OTP.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Ride, error) {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return nil, ErrMissingField
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusAccepted {
		return nil, ErrInvalidState
	}
	if !r.BoundTo(cmd.DriverID) {
		return nil, ErrNotYourRide
	}
	if subtle.ConstantTimeCompare([]byte(cmd.OTP), []byte(r.OTP)) != 1 {
		return nil, ErrInvalidOtp
	}
	now := s.now()
	if err := s.transition(ctx, StatusUpdate{
		ID:           r.ID,
		From:         StatusAccepted,
		To:           StatusOngoing,
		ExpectDriver: &cmd.DriverID,
		At:           now,
	}); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, r.ID, StatusAccepted, StatusOngoing, types.ActorDriver, &cmd.DriverID, now)

	updated, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, updated.RiderID, EventRideStarted, PublicView(updated))
	return updated, nil
}

// End completes an ongoing ride and re-reads it to confirm the write.
func (s *Service) End(ctx context.Context, cmd EndCommand) (*Ride, error) {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return nil, ErrMissingField
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusOngoing {
		return nil, ErrInvalidState
	}
	if !r.BoundTo(cmd.DriverID) {
		return nil, ErrNotYourRide
	}
	now := s.now()
	if err := s.transition(ctx, StatusUpdate{
		ID:           r.ID,
		From:         StatusOngoing,
		To:           StatusCompleted,
		ExpectDriver: &cmd.DriverID,
		At:           now,
	}); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, r.ID, StatusOngoing, StatusCompleted, types.ActorDriver, &cmd.DriverID, now)

	updated, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if updated.Status != StatusCompleted {
		return nil, s.consistencyError(r.ID, StatusCompleted, updated.Status)
	}
	s.notify(ctx, updated.RiderID, EventRideEnded, PublicView(updated))
	return updated, nil
}

// Cancel moves a pending or accepted ride to cancelled. A lost race against
// another transition is retried while the ride is still cancellable.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Ride, error) {
	if cmd.RideID == "" || cmd.Requester.ID == "" {
		return nil, ErrMissingField
	}
	var reason *string
	if cmd.Reason != "" {
		reason = &cmd.Reason
	}

	for attempt := 0; attempt < 3; attempt++ {
		r, err := s.store.Get(ctx, cmd.RideID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(r.Status, StatusCancelled) {
			return nil, ErrInvalidState
		}
		if s.opts.CancelPolicy == CancelOwner && !r.OwnedBy(cmd.Requester) {
			return nil, ErrNotYourRide
		}
		now := s.now()
		ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
			ID:           r.ID,
			From:         r.Status,
			To:           StatusCancelled,
			CancelReason: reason,
			At:           now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.TransitionConflicts.WithLabelValues(string(StatusCancelled)).Inc()
			continue
		}
		s.recordTransition(ctx, r.ID, r.Status, StatusCancelled, cmd.Requester.Kind, &cmd.Requester.ID, now)

		updated, err := s.store.Get(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		view := PublicView(updated)
		if cmd.Requester != (types.Identity{Kind: types.ActorRider, ID: updated.RiderID}) {
			s.notify(ctx, updated.RiderID, EventRideCancelled, view)
		}
		if updated.DriverID != nil && cmd.Requester != (types.Identity{Kind: types.ActorDriver, ID: *updated.DriverID}) {
			s.notify(ctx, *updated.DriverID, EventRideCancelled, view)
		}
		return updated, nil
	}
	return nil, ErrInvalidState
}

// Fare quotes every supported vehicle class for a trip without creating a ride.
func (s *Service) Fare(ctx context.Context, q FareQuery) (FareQuote, error) {
	pickup := strings.TrimSpace(q.Pickup)
	destination := strings.TrimSpace(q.Destination)
	if pickup == "" || destination == "" {
		return FareQuote{}, ErrMissingField
	}
	route, err := s.distance.GetDistanceAndDuration(ctx, pickup, destination)
	if err != nil {
		return FareQuote{}, err
	}
	km, mins := route.DistanceKm(), route.DurationMin()
	return FareQuote{
		DistanceKm:  km,
		DurationMin: mins,
		Currency:    s.pricing.Currency(),
		Fares:       s.pricing.EstimateAll(km, mins),
	}, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	if id == "" {
		return nil, ErrMissingField
	}
	return s.store.Get(ctx, id)
}

// ViewFor returns the projection a caller may see. Drivers can read pending
// rides (open offers) and rides bound to them; riders only their own.
func (s *Service) ViewFor(ctx context.Context, id types.ID, viewer types.Identity) (View, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	switch viewer.Kind {
	case types.ActorRider:
		if r.RiderID != viewer.ID {
			return View{}, ErrNotYourRide
		}
	case types.ActorDriver:
		if r.Status != StatusPending && !r.BoundTo(viewer.ID) {
			return View{}, ErrNotYourRide
		}
	default:
		return View{}, ErrNotYourRide
	}
	return ViewFor(r, viewer), nil
}

// CreatePaymentOrder opens a gateway order for the ride fare and binds it to
// the ride. Only the most recently bound order can settle the ride.
func (s *Service) CreatePaymentOrder(ctx context.Context, cmd PaymentOrderCommand) (PaymentOrder, error) {
	if s.payments == nil {
		return PaymentOrder{}, ErrPaymentsDisabled
	}
	if cmd.RideID == "" || cmd.RiderID == "" {
		return PaymentOrder{}, ErrMissingField
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return PaymentOrder{}, err
	}
	if r.RiderID != cmd.RiderID {
		return PaymentOrder{}, ErrNotYourRide
	}
	if !payable(r) {
		return PaymentOrder{}, ErrInvalidState
	}
	amount := types.Money{Amount: r.Fare, Currency: r.Currency}
	orderID, err := s.payments.CreateOrder(ctx, amount.MinorUnits(), amount.Currency, string(r.ID))
	if err != nil {
		return PaymentOrder{}, err
	}
	ok, err := s.store.SetPaymentOrder(ctx, r.ID, orderID)
	if err != nil {
		return PaymentOrder{}, err
	}
	if !ok {
		return PaymentOrder{}, ErrInvalidState
	}
	return PaymentOrder{OrderID: orderID, Amount: amount.MinorUnits(), Currency: amount.Currency}, nil
}

// VerifyPayment checks the gateway signature and that the order is the one
// opened for this ride. An ongoing ride is completed with the payment
// attached; a completed unpaid ride only records it.
func (s *Service) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (*Ride, error) {
	if s.payments == nil {
		return nil, ErrPaymentsDisabled
	}
	if cmd.RideID == "" || cmd.OrderID == "" || cmd.PaymentID == "" || cmd.Signature == "" {
		return nil, ErrMissingField
	}
	if !s.payments.VerifySignature(cmd.OrderID, cmd.PaymentID, cmd.Signature) {
		return nil, ErrPaymentVerification
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if cmd.RiderID != "" && r.RiderID != cmd.RiderID {
		return nil, ErrNotYourRide
	}
	if r.PaymentOrderID == nil || *r.PaymentOrderID != cmd.OrderID {
		return nil, ErrPaymentVerification
	}

	p := Payment{OrderID: cmd.OrderID, PaymentID: cmd.PaymentID, Signature: cmd.Signature}
	now := s.now()
	switch {
	case r.Status == StatusOngoing:
		if err := s.transition(ctx, StatusUpdate{
			ID:      r.ID,
			From:    StatusOngoing,
			To:      StatusCompleted,
			Payment: &p,
			At:      now,
		}); err != nil {
			return nil, err
		}
		s.recordTransition(ctx, r.ID, StatusOngoing, StatusCompleted, types.ActorRider, &r.RiderID, now)
	case r.Status == StatusCompleted && r.PaymentID == nil:
		ok, err := s.store.RecordPayment(ctx, r.ID, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidState
		}
	default:
		return nil, ErrInvalidState
	}

	updated, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if updated.Status != StatusCompleted || updated.PaymentID == nil || *updated.PaymentID != cmd.PaymentID {
		return nil, s.consistencyError(r.ID, StatusCompleted, updated.Status)
	}
	view := PublicView(updated)
	if updated.DriverID != nil {
		s.notify(ctx, *updated.DriverID, EventPaymentVerified, view)
	}
	if r.Status == StatusOngoing {
		s.notify(ctx, updated.RiderID, EventRideEnded, view)
	}
	return updated, nil
}

// RunExpiryMonitor cancels pending rides older than the configured TTL.
// It returns immediately when no TTL is set.
func (s *Service) RunExpiryMonitor(ctx context.Context) {
	if s.opts.PendingTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ExpirePending(ctx); err != nil {
				s.log.Warn("expire pending rides", "err", err)
			} else if n > 0 {
				s.log.Info("expired pending rides", "count", n)
			}
		}
	}
}

const expiryBatch = 100

// ExpirePending runs one expiry sweep and reports how many rides it cancelled.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	if s.opts.PendingTTL <= 0 {
		return 0, nil
	}
	now := s.now()
	rides, err := s.store.ListPendingBefore(ctx, now.Add(-s.opts.PendingTTL), expiryBatch)
	if err != nil {
		return 0, err
	}
	reason := "expired"
	expired := 0
	for _, r := range rides {
		ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
			ID:           r.ID,
			From:         StatusPending,
			To:           StatusCancelled,
			CancelReason: &reason,
			At:           now,
		})
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		expired++
		metrics.RidesExpired.Inc()
		s.recordTransition(ctx, r.ID, StatusPending, StatusCancelled, types.ActorSystem, nil, now)
		r.Status = StatusCancelled
		r.CancelReason = &reason
		r.CancelledAt = &now
		s.notify(ctx, r.RiderID, EventRideCancelled, PublicView(r))
	}
	return expired, nil
}

// Wait blocks until background dispatches have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) transition(ctx context.Context, u StatusUpdate) error {
	ok, err := s.store.UpdateStatus(ctx, u)
	if err != nil {
		return err
	}
	if !ok {
		metrics.TransitionConflicts.WithLabelValues(string(u.To)).Inc()
		return ErrInvalidState
	}
	return nil
}

func (s *Service) recordTransition(ctx context.Context, id types.ID, from, to Status, actor types.ActorKind, actorID *types.ID, at time.Time) {
	metrics.RideTransitions.WithLabelValues(string(from), string(to)).Inc()
	e := Event{
		RideID:     id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actor,
		ActorID:    actorID,
		CreatedAt:  at,
	}
	if err := s.store.AppendEvent(ctx, &e); err != nil {
		s.log.Warn("append ride event", "ride_id", id, "to", to, "err", err)
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.Warn("publish ride event", "ride_id", id, "to", to, "err", err)
		}
	}
}

func (s *Service) startDispatch(ctx context.Context, offer Offer) {
	if s.dispatcher == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DispatchTimeout)
		defer cancel()
		if err := s.dispatcher.Dispatch(dctx, offer); err != nil {
			s.log.Warn("dispatch ride", "ride_id", offer.RideID, "err", err)
		}
	}()
}

func (s *Service) notify(ctx context.Context, recipient types.ID, event string, payload any) {
	if s.notifier == nil || recipient == "" {
		return
	}
	if err := s.notifier.Notify(ctx, recipient, event, payload); err != nil {
		s.log.Warn("notify", "recipient", recipient, "event", event, "err", err)
	}
}

func (s *Service) consistencyError(id types.ID, want, got Status) error {
	metrics.ConsistencyErrors.Inc()
	s.log.Error("ride post-condition failed", "ride_id", id, "want", want, "got", got)
	return ErrConsistency
}

func payable(r *Ride) bool {
	return r.Status == StatusOngoing || (r.Status == StatusCompleted && r.PaymentID == nil)
}

func newID() types.ID {
	return types.ID(uuid.NewString())
}
