// README: JSON projection of a ride; the OTP is included only for the ride's own rider.
package ride

import (
	"time"

	"rideflow/internal/types"
)

type View struct {
	ID                 types.ID           `json:"id"`
	RiderID            types.ID           `json:"rider_id"`
	DriverID           *types.ID          `json:"driver_id,omitempty"`
	Pickup             string             `json:"pickup"`
	Destination        string             `json:"destination"`
	PickupAddress      string             `json:"pickup_address"`
	DestinationAddress string             `json:"destination_address"`
	VehicleClass       types.VehicleClass `json:"vehicle_class"`
	Fare               int64              `json:"fare"`
	Currency           string             `json:"currency"`
	DistanceKm         float64            `json:"distance_km"`
	DurationMin        float64            `json:"duration_min"`
	Status             Status             `json:"status"`
	BookedAt           time.Time          `json:"booked_at"`
	ScheduledAt        *time.Time         `json:"scheduled_at,omitempty"`
	AcceptedAt         *time.Time         `json:"accepted_at,omitempty"`
	StartedAt          *time.Time         `json:"started_at,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancelReason       *string            `json:"cancel_reason,omitempty"`
	PaymentOrderID     *string            `json:"payment_order_id,omitempty"`
	PaymentID          *string            `json:"payment_id,omitempty"`
	OTP                string             `json:"otp,omitempty"`
}

// PublicView is the default read: everything except the OTP and the payment signature.
func PublicView(r *Ride) View {
	return View{
		ID:                 r.ID,
		RiderID:            r.RiderID,
		DriverID:           r.DriverID,
		Pickup:             r.Pickup,
		Destination:        r.Destination,
		PickupAddress:      r.PickupAddress,
		DestinationAddress: r.DestinationAddress,
		VehicleClass:       r.VehicleClass,
		Fare:               r.Fare,
		Currency:           r.Currency,
		DistanceKm:         r.DistanceKm,
		DurationMin:        r.DurationMin,
		Status:             r.Status,
		BookedAt:           r.BookedAt,
		ScheduledAt:        r.ScheduledAt,
		AcceptedAt:         r.AcceptedAt,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
		CancelledAt:        r.CancelledAt,
		CancelReason:       r.CancelReason,
		PaymentOrderID:     r.PaymentOrderID,
		PaymentID:          r.PaymentID,
	}
}

// ViewFor adds the OTP when the viewer is the rider, who relays it to the
// driver at pickup, and only while the ride still needs it.
func ViewFor(r *Ride, viewer types.Identity) View {
	v := PublicView(r)
	if viewer.Kind == types.ActorRider && viewer.ID == r.RiderID &&
		(r.Status == StatusPending || r.Status == StatusAccepted) {
		v.OTP = r.OTP
	}
	return v
}
