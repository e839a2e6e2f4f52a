// README: Driver location record, the projection the dispatch query reads.
package location

import (
	"time"

	"rideflow/internal/types"
)

type Record struct {
	DriverID     types.ID
	VehicleClass types.VehicleClass
	Position     types.Point
	UpdatedAt    time.Time
}

type Update struct {
	DriverID     types.ID
	VehicleClass string
	Lat          float64
	Lng          float64
}
