// README: Vehicle class enum shared by pricing, dispatch and rides.
package types

import (
	"errors"
	"strings"
)

type VehicleClass string

const (
	VehicleCar        VehicleClass = "car"
	VehicleMotorcycle VehicleClass = "motorcycle"
	VehicleAuto       VehicleClass = "auto"
	// VehicleMoto is accepted on input and stored as VehicleMotorcycle.
	VehicleMoto VehicleClass = "moto"
)

var ErrInvalidVehicleClass = errors.New("invalid vehicle class")

// SupportedClasses lists every class a fare quote is produced for, alias included.
var SupportedClasses = []VehicleClass{VehicleCar, VehicleAuto, VehicleMotorcycle, VehicleMoto}

// ParseVehicleClass normalizes case, whitespace and the moto alias.
func ParseVehicleClass(s string) (VehicleClass, error) {
	switch VehicleClass(strings.ToLower(strings.TrimSpace(s))) {
	case VehicleCar:
		return VehicleCar, nil
	case VehicleAuto:
		return VehicleAuto, nil
	case VehicleMotorcycle, VehicleMoto:
		return VehicleMotorcycle, nil
	}
	return "", ErrInvalidVehicleClass
}

func (v VehicleClass) Normalize() (VehicleClass, error) {
	return ParseVehicleClass(string(v))
}
