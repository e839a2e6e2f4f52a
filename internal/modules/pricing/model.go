// README: Fare rate definition for each vehicle class.
package pricing

import "rideflow/internal/types"

type Rate struct {
	Class     types.VehicleClass
	BaseFare  float64
	PerKm     float64
	PerMinute float64
}

// Table maps a canonical vehicle class to its rate. The moto alias is resolved
// before lookup and never stored as a key.
type Table map[types.VehicleClass]Rate

// DefaultTable is the built-in fare table used when no override is loaded.
func DefaultTable() Table {
	return Table{
		types.VehicleCar:        {Class: types.VehicleCar, BaseFare: 50, PerKm: 12, PerMinute: 2},
		types.VehicleAuto:       {Class: types.VehicleAuto, BaseFare: 30, PerKm: 10, PerMinute: 1.5},
		types.VehicleMotorcycle: {Class: types.VehicleMotorcycle, BaseFare: 20, PerKm: 8, PerMinute: 1},
	}
}
