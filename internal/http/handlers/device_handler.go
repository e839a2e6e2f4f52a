// README: Push device registration for ride notifications.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rideflow/internal/http/middleware"
	"rideflow/internal/notify"
)

type DeviceHandler struct {
	tokens notify.TokenStore
}

func NewDeviceHandler(tokens notify.TokenStore) *DeviceHandler {
	return &DeviceHandler{tokens: tokens}
}

type deviceTokenReq struct {
	Token string `json:"token"`
}

func (h *DeviceHandler) Register(c *gin.Context) {
	var req deviceTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(c, http.StatusBadRequest, "missing_field", "missing token")
		return
	}
	if err := h.tokens.SetToken(c.Request.Context(), middleware.CallerID(c), token); err != nil {
		writeRideError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DeviceHandler) Unregister(c *gin.Context) {
	if err := h.tokens.DeleteToken(c.Request.Context(), middleware.CallerID(c)); err != nil {
		writeRideError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
