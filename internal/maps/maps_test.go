package maps

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"rideflow/internal/types"
)

type fakeDirections struct {
	routes []maps.Route
	err    error
	req    *maps.DirectionsRequest
}

func (f *fakeDirections) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	f.req = r
	return f.routes, nil, f.err
}

type fakeGeocoding struct {
	results []maps.GeocodingResult
	err     error
	calls   int
}

func (f *fakeGeocoding) Geocode(_ context.Context, _ *maps.GeocodingRequest) ([]maps.GeocodingResult, error) {
	f.calls++
	return f.results, f.err
}

func TestRouteService_GetDistanceAndDuration(t *testing.T) {
	fake := &fakeDirections{routes: []maps.Route{{
		Legs: []*maps.Leg{{
			Distance: maps.Distance{Meters: 10000, HumanReadable: "10 km"},
			Duration: 20 * time.Minute,
		}},
	}}}
	svc := &RouteService{client: fake, region: "in"}

	got, err := svc.GetDistanceAndDuration(context.Background(), "(28.61,77.20)", "(28.70,77.25)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DistanceKm() != 10 || got.DurationMin() != 20 {
		t.Fatalf("got %+v", got)
	}
	if fake.req.Mode != maps.TravelModeDriving || fake.req.Region != "in" {
		t.Fatalf("unexpected request %+v", fake.req)
	}
	if fake.req.Origin != "28.610000,77.200000" || fake.req.Destination != "28.700000,77.250000" {
		t.Fatalf("coordinates not normalized: %q -> %q", fake.req.Origin, fake.req.Destination)
	}
}

func TestRouteService_WaypointForms(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"(28.61,77.20)", "28.610000,77.200000"},
		{"28.61, 77.2", "28.610000,77.200000"},
		{" -33.8688,151.2093 ", "-33.868800,151.209300"},
		{"India Gate, Delhi", "India Gate, Delhi"},
		{"  Connaught Place  ", "Connaught Place"},
	}
	for _, tc := range cases {
		fake := &fakeDirections{routes: []maps.Route{{Legs: []*maps.Leg{{}}}}}
		svc := &RouteService{client: fake}
		if _, err := svc.GetDistanceAndDuration(context.Background(), tc.in, tc.in); err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if fake.req.Origin != tc.want || fake.req.Destination != tc.want {
			t.Fatalf("%q: sent %q", tc.in, fake.req.Origin)
		}
	}
}

func TestRouteService_NoRoute(t *testing.T) {
	cases := []struct {
		name string
		fake *fakeDirections
	}{
		{name: "empty routes", fake: &fakeDirections{}},
		{name: "zero results status", fake: &fakeDirections{err: errors.New("maps: ZERO_RESULTS - ")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &RouteService{client: tc.fake}
			if _, err := svc.GetDistanceAndDuration(context.Background(), "a", "b"); !errors.Is(err, ErrRouteNotFound) {
				t.Fatalf("expected ErrRouteNotFound, got %v", err)
			}
		})
	}
}

func TestRouteService_APIErrorPropagates(t *testing.T) {
	apiErr := errors.New("maps: REQUEST_DENIED - bad key")
	svc := &RouteService{client: &fakeDirections{err: apiErr}}
	_, err := svc.GetDistanceAndDuration(context.Background(), "a", "b")
	if !errors.Is(err, apiErr) || errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}

func TestGeocoder_ResolveCoordinates(t *testing.T) {
	fake := &fakeGeocoding{results: []maps.GeocodingResult{{
		Geometry: maps.AddressGeometry{Location: maps.LatLng{Lat: 28.6315, Lng: 77.2167}},
	}}}
	g := &Geocoder{client: fake}

	p, err := g.ResolveCoordinates(context.Background(), "Connaught Place, New Delhi")
	if err != nil {
		t.Fatal(err)
	}
	if p != (types.Point{Lat: 28.6315, Lng: 77.2167}) {
		t.Fatalf("got %v", p)
	}

	// Coordinates short-circuit the API.
	p, err = g.ResolveCoordinates(context.Background(), "(28.61,77.20)")
	if err != nil || p.Lat != 28.61 {
		t.Fatalf("got %v, %v", p, err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 api call, got %d", fake.calls)
	}
}

func TestGeocoder_NotResolvable(t *testing.T) {
	for _, fake := range []*fakeGeocoding{{}, {err: errors.New("maps: ZERO_RESULTS - ")}} {
		g := &Geocoder{client: fake}
		if _, err := g.ResolveCoordinates(context.Background(), "nowhere"); !errors.Is(err, ErrAddressNotResolvable) {
			t.Fatalf("expected ErrAddressNotResolvable, got %v", err)
		}
	}
	g := &Geocoder{client: &fakeGeocoding{}}
	if _, err := g.ResolveCoordinates(context.Background(), ""); !errors.Is(err, ErrAddressNotResolvable) {
		t.Fatalf("empty address: got %v", err)
	}
}

func TestStraightLine(t *testing.T) {
	s := NewStraightLine(30)
	r, err := s.GetDistanceAndDuration(context.Background(), "(28.61,77.20)", "(28.70,77.25)")
	if err != nil {
		t.Fatal(err)
	}
	// ~11.1 km at 30 km/h is ~22 minutes.
	if math.Abs(r.DistanceKm()-11.1) > 0.5 || math.Abs(r.DurationMin()-22.2) > 1.5 {
		t.Fatalf("unexpected route %+v", r)
	}
	if _, err := s.GetDistanceAndDuration(context.Background(), "home", "(28.70,77.25)"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}
	if _, err := s.ResolveCoordinates(context.Background(), "home"); !errors.Is(err, ErrAddressNotResolvable) {
		t.Fatalf("expected ErrAddressNotResolvable, got %v", err)
	}
}
