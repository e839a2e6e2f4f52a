// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rideflow/internal/http/handlers"
	"rideflow/internal/http/middleware"
	"rideflow/internal/infra"
	"rideflow/internal/modules/location"
	"rideflow/internal/modules/ride"
	"rideflow/internal/notify"
)

type RouterDeps struct {
	Rides    *ride.Service
	Location *location.Service
	Tokens   notify.TokenStore
	Hub      *notify.Hub
	Verifier infra.Verifier
	Logger   *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(deps.Verifier)
	if deps.Hub != nil {
		r.GET("/ws", auth, func(c *gin.Context) {
			deps.Hub.Serve(c.Writer, c.Request, middleware.CallerIdentity(c))
		})
	}

	api := r.Group("/api", auth)

	rideHandler := handlers.NewRideHandler(deps.Rides)
	api.POST("/rides", rideHandler.Create)
	api.GET("/rides/fare", rideHandler.Fare)
	api.GET("/rides/:id", rideHandler.Get)
	api.POST("/rides/:id/confirm", rideHandler.Confirm)
	api.POST("/rides/:id/start", rideHandler.Start)
	api.POST("/rides/:id/end", rideHandler.End)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.POST("/rides/:id/payment/order", rideHandler.PaymentOrder)
	api.POST("/rides/:id/payment/verify", rideHandler.VerifyPayment)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.PUT("/drivers/:id/location", locationHandler.Update)
	api.DELETE("/drivers/:id/location", locationHandler.Offline)

	if deps.Tokens != nil {
		deviceHandler := handlers.NewDeviceHandler(deps.Tokens)
		api.PUT("/devices/token", deviceHandler.Register)
		api.DELETE("/devices/token", deviceHandler.Unregister)
	}

	return r
}
