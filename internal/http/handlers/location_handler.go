// README: Driver location reports feeding the dispatch radius query.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rideflow/internal/modules/location"
	"rideflow/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type updateLocationReq struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	VehicleClass string  `json:"vehicle_class"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing_field", "missing id")
		return
	}
	// Only the authenticated driver may update their own location.
	caller, ok := requireKind(c, types.ActorDriver)
	if !ok {
		return
	}
	if string(caller.ID) != id {
		forbidden(c, "id does not match authenticated user")
		return
	}
	var req updateLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	rec, err := h.location.UpdateDriverLocation(c.Request.Context(), location.Update{
		DriverID:     caller.ID,
		VehicleClass: req.VehicleClass,
		Lat:          req.Lat,
		Lng:          req.Lng,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"driver_id":     rec.DriverID,
		"vehicle_class": rec.VehicleClass,
		"lat":           rec.Position.Lat,
		"lng":           rec.Position.Lng,
		"updated_at":    rec.UpdatedAt,
	})
}

// Offline drops the driver from dispatch until the next location report.
func (h *LocationHandler) Offline(c *gin.Context) {
	caller, ok := requireKind(c, types.ActorDriver)
	if !ok {
		return
	}
	if string(caller.ID) != c.Param("id") {
		forbidden(c, "id does not match authenticated user")
		return
	}
	if err := h.location.RemoveDriver(c.Request.Context(), caller.ID); err != nil {
		writeRideError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
