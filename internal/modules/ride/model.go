// README: Ride aggregate, status definitions and the transition table.
package ride

import (
	"time"

	"rideflow/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Push event names sent through the notifier.
const (
	EventNewRide         = "new-ride"
	EventRideConfirmed   = "ride-confirmed"
	EventRideStarted     = "ride-started"
	EventRideEnded       = "ride-ended"
	EventRideCancelled   = "ride-cancelled"
	EventPaymentVerified = "payment-verified"
)

type Ride struct {
	ID                 types.ID
	RiderID            types.ID
	DriverID           *types.ID
	Pickup             string
	Destination        string
	PickupAddress      string
	DestinationAddress string
	VehicleClass       types.VehicleClass
	Fare               int64
	Currency           string
	DistanceKm         float64
	DurationMin        float64
	OTP                string
	Status             Status
	StatusVersion      int
	BookedAt           time.Time
	ScheduledAt        *time.Time
	AcceptedAt         *time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancelReason       *string
	PaymentOrderID     *string
	PaymentID          *string
	PaymentSignature   *string
}

// Payment is the gateway reconciliation triple recorded after verification.
type Payment struct {
	OrderID   string
	PaymentID string
	Signature string
}

type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  types.ActorKind
	ActorID    *types.ID
	CreatedAt  time.Time
}

// Offer is what candidate drivers receive. It never carries the OTP.
type Offer struct {
	RideID             types.ID           `json:"ride_id"`
	RiderID            types.ID           `json:"rider_id"`
	Pickup             string             `json:"pickup"`
	Destination        string             `json:"destination"`
	PickupAddress      string             `json:"pickup_address"`
	DestinationAddress string             `json:"destination_address"`
	VehicleClass       types.VehicleClass `json:"vehicle_class"`
	Fare               int64              `json:"fare"`
	Currency           string             `json:"currency"`
	DistanceKm         float64            `json:"distance_km"`
	DurationMin        float64            `json:"duration_min"`
	BookedAt           time.Time          `json:"booked_at"`
}

// AllowedTransitions represents the ride lifecycle as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusOngoing, StatusCancelled},
	StatusOngoing:  {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// BoundTo reports whether driverID is the ride's accepted driver.
func (r *Ride) BoundTo(driverID types.ID) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

// OwnedBy reports whether the identity is the ride's rider or its bound driver.
func (r *Ride) OwnedBy(id types.Identity) bool {
	switch id.Kind {
	case types.ActorRider:
		return r.RiderID == id.ID
	case types.ActorDriver:
		return r.BoundTo(id.ID)
	}
	return false
}

func (r *Ride) Offer() Offer {
	return Offer{
		RideID:             r.ID,
		RiderID:            r.RiderID,
		Pickup:             r.Pickup,
		Destination:        r.Destination,
		PickupAddress:      r.PickupAddress,
		DestinationAddress: r.DestinationAddress,
		VehicleClass:       r.VehicleClass,
		Fare:               r.Fare,
		Currency:           r.Currency,
		DistanceKm:         r.DistanceKm,
		DurationMin:        r.DurationMin,
		BookedAt:           r.BookedAt,
	}
}

func (r *Ride) clone() *Ride {
	cp := *r
	cp.DriverID = clonePtr(r.DriverID)
	cp.ScheduledAt = clonePtr(r.ScheduledAt)
	cp.AcceptedAt = clonePtr(r.AcceptedAt)
	cp.StartedAt = clonePtr(r.StartedAt)
	cp.CompletedAt = clonePtr(r.CompletedAt)
	cp.CancelledAt = clonePtr(r.CancelledAt)
	cp.CancelReason = clonePtr(r.CancelReason)
	cp.PaymentOrderID = clonePtr(r.PaymentOrderID)
	cp.PaymentID = clonePtr(r.PaymentID)
	cp.PaymentSignature = clonePtr(r.PaymentSignature)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
