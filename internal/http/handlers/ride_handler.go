// README: Ride handlers: booking, fare quote, driver transitions, cancel and payment.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rideflow/internal/http/middleware"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

type RideHandler struct {
	rides *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{rides: svc}
}

type createRideReq struct {
	Pickup             string     `json:"pickup"`
	Destination        string     `json:"destination"`
	PickupAddress      string     `json:"pickup_address"`
	DestinationAddress string     `json:"destination_address"`
	VehicleClass       string     `json:"vehicle_class"`
	ScheduledAt        *time.Time `json:"scheduled_at"`
}

func (h *RideHandler) Create(c *gin.Context) {
	caller, ok := requireKind(c, types.ActorRider)
	if !ok {
		return
	}
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		RiderID:            caller.ID,
		Pickup:             req.Pickup,
		Destination:        req.Destination,
		PickupAddress:      req.PickupAddress,
		DestinationAddress: req.DestinationAddress,
		VehicleClass:       req.VehicleClass,
		ScheduledAt:        req.ScheduledAt,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, ride.ViewFor(r, caller))
}

func (h *RideHandler) Fare(c *gin.Context) {
	quote, err := h.rides.Fare(c.Request.Context(), ride.FareQuery{
		Pickup:      c.Query("pickup"),
		Destination: c.Query("destination"),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, quote)
}

func (h *RideHandler) Get(c *gin.Context) {
	v, err := h.rides.ViewFor(c.Request.Context(), types.ID(c.Param("id")), middleware.CallerIdentity(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (h *RideHandler) Confirm(c *gin.Context) {
	caller, ok := requireKind(c, types.ActorDriver)
	if !ok {
		return
	}
	r, err := h.rides.Confirm(c.Request.Context(), ride.ConfirmCommand{
		RideID:   types.ID(c.Param("id")),
		DriverID: caller.ID,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, ride.PublicView(r))
}

type startRideReq struct {
	OTP string `json:"otp"`
}

func (h *RideHandler) Start(c *gin.Context) {
	caller, ok := requireKind(c, types.ActorDriver)
	if !ok {
		return
	}
	var req startRideReq
	if !bindOptionalJSON(c, &req) {
		return
	}
	r, err := h.rides.Start(c.Request.Context(), ride.StartCommand{
		RideID:   types.ID(c.Param("id")),
		DriverID: caller.ID,
		OTP:      req.OTP,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, ride.PublicView(r))
}

func (h *RideHandler) End(c *gin.Context) {
	caller, ok := requireKind(c, types.ActorDriver)
	if !ok {
		return
	}
	r, err := h.rides.End(c.Request.Context(), ride.EndCommand{
		RideID:   types.ID(c.Param("id")),
		DriverID: caller.ID,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, ride.PublicView(r))
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	var req cancelRideReq
	if !bindOptionalJSON(c, &req) {
		return
	}
	r, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID:    types.ID(c.Param("id")),
		Requester: middleware.CallerIdentity(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, ride.PublicView(r))
}

func (h *RideHandler) PaymentOrder(c *gin.Context) {
	caller, ok := requireKind(c, types.ActorRider)
	if !ok {
		return
	}
	order, err := h.rides.CreatePaymentOrder(c.Request.Context(), ride.PaymentOrderCommand{
		RideID:  types.ID(c.Param("id")),
		RiderID: caller.ID,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, order)
}

type verifyPaymentReq struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (h *RideHandler) VerifyPayment(c *gin.Context) {
	caller, ok := requireKind(c, types.ActorRider)
	if !ok {
		return
	}
	var req verifyPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	r, err := h.rides.VerifyPayment(c.Request.Context(), ride.VerifyPaymentCommand{
		RideID:    types.ID(c.Param("id")),
		RiderID:   caller.ID,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, ride.PublicView(r))
}
