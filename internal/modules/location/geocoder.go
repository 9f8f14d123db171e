package location

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"zerowaste/internal/types"
)

// Geocoder resolves free-form addresses to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

// MapsGeocoder handles interactions with the Google Maps Geocoding API.
type MapsGeocoder struct {
	client *maps.Client
	region string
}

// NewMapsGeocoder creates a MapsGeocoder with the given API key. region is a
// ccTLD bias such as "us"; empty means no bias.
func NewMapsGeocoder(apiKey, region string) (*MapsGeocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &MapsGeocoder{client: client, region: region}, nil
}

// Geocode returns the coordinates of the best match for address.
func (g *MapsGeocoder) Geocode(ctx context.Context, address string) (types.Point, error) {
	if address == "" {
		return types.Point{}, fmt.Errorf("%w: empty address", types.ErrBadRequest)
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  g.region,
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("%w: maps api error: %w", types.ErrDependencyFailure, err)
	}
	if len(results) == 0 {
		return types.Point{}, fmt.Errorf("%w: location not found for %q", types.ErrNotFound, address)
	}
	loc := results[0].Geometry.Location
	return types.Point{Lng: loc.Lng, Lat: loc.Lat}, nil
}
