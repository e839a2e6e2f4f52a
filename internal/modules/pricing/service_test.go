package pricing

import (
	"errors"
	"testing"

	"rideflow/internal/types"
)

func TestService_Estimate(t *testing.T) {
	s := NewService(nil, "")

	tests := []struct {
		name     string
		km       float64
		min      float64
		class    types.VehicleClass
		wantFare int64
	}{
		{name: "car 10km 20min", km: 10, min: 20, class: types.VehicleCar, wantFare: 210},
		{name: "car base only", km: 0, min: 0, class: types.VehicleCar, wantFare: 50},
		// 30 + 2.5*10 + 3*1.5 = 59.5 -> 60
		{name: "auto rounds half up", km: 2.5, min: 3, class: types.VehicleAuto, wantFare: 60},
		// 20 + 1.2*8 + 0.4*1 = 30.0
		{name: "motorcycle", km: 1.2, min: 0.4, class: types.VehicleMotorcycle, wantFare: 30},
		{name: "moto alias", km: 1.2, min: 0.4, class: types.VehicleMoto, wantFare: 30},
		// 50 + 0.1*12 + 0*2 = 51.2 -> 51
		{name: "car rounds down below half", km: 0.1, min: 0, class: types.VehicleCar, wantFare: 51},
		{name: "negative inputs clamp to base", km: -5, min: -5, class: types.VehicleCar, wantFare: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Estimate(tt.km, tt.min, tt.class)
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if got != tt.wantFare {
				t.Errorf("Estimate() = %d, want %d", got, tt.wantFare)
			}
		})
	}
}

func TestService_EstimateUnknownClass(t *testing.T) {
	s := NewService(nil, "")
	if _, err := s.Estimate(1, 1, "helicopter"); !errors.Is(err, ErrInvalidVehicleClass) {
		t.Fatalf("expected ErrInvalidVehicleClass, got %v", err)
	}

	// A table missing a class rejects it as well.
	partial := NewService(Table{types.VehicleCar: DefaultTable()[types.VehicleCar]}, "INR")
	if _, err := partial.Estimate(1, 1, types.VehicleAuto); !errors.Is(err, ErrInvalidVehicleClass) {
		t.Fatalf("expected ErrInvalidVehicleClass for missing rate, got %v", err)
	}
}

func TestService_EstimateMonotonic(t *testing.T) {
	s := NewService(nil, "")
	for _, class := range types.SupportedClasses {
		prev := int64(-1)
		for km := 0.0; km <= 50; km += 0.35 {
			got, err := s.Estimate(km, 15, class)
			if err != nil {
				t.Fatalf("%s: %v", class, err)
			}
			if got < prev {
				t.Fatalf("%s: fare decreased with distance at %.2fkm: %d < %d", class, km, got, prev)
			}
			prev = got
		}
		prev = -1
		for min := 0.0; min <= 120; min += 0.7 {
			got, err := s.Estimate(8, min, class)
			if err != nil {
				t.Fatalf("%s: %v", class, err)
			}
			if got < prev {
				t.Fatalf("%s: fare decreased with duration at %.1fmin: %d < %d", class, min, got, prev)
			}
			prev = got
		}
	}
}

func TestService_EstimateAll(t *testing.T) {
	s := NewService(nil, "")
	fares := s.EstimateAll(7.3, 18)
	for _, c := range []types.VehicleClass{types.VehicleCar, types.VehicleAuto, types.VehicleMotorcycle, types.VehicleMoto} {
		if _, ok := fares[c]; !ok {
			t.Errorf("missing fare for %s", c)
		}
	}
	if fares[types.VehicleMoto] != fares[types.VehicleMotorcycle] {
		t.Errorf("moto fare %d != motorcycle fare %d", fares[types.VehicleMoto], fares[types.VehicleMotorcycle])
	}
}

func TestService_TableIsCopied(t *testing.T) {
	table := DefaultTable()
	s := NewService(table, "INR")
	table[types.VehicleCar] = Rate{Class: types.VehicleCar, BaseFare: 1000}

	got, err := s.Estimate(0, 0, types.VehicleCar)
	if err != nil {
		t.Fatal(err)
	}
	if got != 50 {
		t.Fatalf("service observed caller mutation: got %d", got)
	}
}

func TestService_DefaultCurrency(t *testing.T) {
	s := NewService(nil, "")
	if s.Currency() != "INR" {
		t.Errorf("currency = %q", s.Currency())
	}
	if fares := s.EstimateAll(10, 20); fares[types.VehicleCar] != 210 {
		t.Errorf("car fare = %d, want 210", fares[types.VehicleCar])
	}
}
