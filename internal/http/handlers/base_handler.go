// README: Base handler utilities (JSON helpers, error kind mapping).
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"rideflow/internal/http/middleware"
	"rideflow/internal/modules/location"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

type errorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// errorKinds maps domain errors to the stable kind and status clients switch on.
var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{ride.ErrMissingField, "missing_field", http.StatusBadRequest},
	{types.ErrInvalidVehicleClass, "invalid_vehicle_class", http.StatusBadRequest},
	{location.ErrBadRequest, "bad_request", http.StatusBadRequest},
	{types.ErrInvalidPoint, "bad_request", http.StatusBadRequest},
	{ride.ErrRideNotFound, "ride_not_found", http.StatusNotFound},
	{ride.ErrInvalidState, "invalid_state", http.StatusConflict},
	{ride.ErrNotYourRide, "not_your_ride", http.StatusForbidden},
	{ride.ErrInvalidOtp, "invalid_otp", http.StatusUnprocessableEntity},
	{ride.ErrRouteNotFound, "route_not_found", http.StatusUnprocessableEntity},
	{ride.ErrAddressNotResolvable, "address_not_resolvable", http.StatusUnprocessableEntity},
	{ride.ErrPaymentVerification, "payment_verification_failed", http.StatusPaymentRequired},
	{ride.ErrPaymentsDisabled, "payments_disabled", http.StatusServiceUnavailable},
	{ride.ErrConsistency, "consistency_error", http.StatusInternalServerError},
	{middleware.ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, kind, msg string) {
	writeJSON(c, status, errorResponse{Kind: kind, Error: msg})
}

// writeRideError writes the mapped kind for err. Unknown errors become a
// generic 500 so collaborator details do not leak.
func writeRideError(c *gin.Context, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			writeError(c, k.status, k.kind, k.err.Error())
			return
		}
	}
	_ = c.Error(err)
	writeError(c, http.StatusInternalServerError, "internal", "internal error")
}

func forbidden(c *gin.Context, msg string) {
	writeError(c, http.StatusForbidden, "forbidden", msg)
}

// requireKind aborts with 403 unless the caller has the given role.
func requireKind(c *gin.Context, kind types.ActorKind) (types.Identity, bool) {
	id := middleware.CallerIdentity(c)
	if id.Kind != kind {
		forbidden(c, string(kind)+" role required")
		return id, false
	}
	return id, true
}

// bindOptionalJSON decodes the body when one is present.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return false
	}
	return true
}
