package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"rideflow/internal/types"
)

type geocodingAPI interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Geocoder resolves free-form addresses through the Google Geocoding API.
type Geocoder struct {
	client geocodingAPI
	region string
}

func NewGeocoder(apiKey, region string) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: client, region: region}, nil
}

// ResolveCoordinates returns the first match's location. Inputs that are
// already "lat,lng" pairs are returned without an API call.
func (g *Geocoder) ResolveCoordinates(ctx context.Context, address string) (types.Point, error) {
	if p, err := types.ParsePoint(address); err == nil {
		return p, nil
	}
	if address == "" {
		return types.Point{}, ErrAddressNotResolvable
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  g.region,
	})
	if err != nil {
		if isNoResult(err) {
			return types.Point{}, ErrAddressNotResolvable
		}
		return types.Point{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, ErrAddressNotResolvable
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
