package geocode

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"go-redzone/types"
)

var ErrNoResults = errors.New("no geocoding results")

// MapsGeocoder is the part of *maps.Client used here.
type MapsGeocoder interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Geocoder resolves place names to coordinates for the crisis map.
type Geocoder struct {
	client MapsGeocoder
}

func New(client MapsGeocoder) *Geocoder {
	return &Geocoder{client: client}
}

// NewMapsClient creates a Google Maps client for apiKey.
func NewMapsClient(apiKey string) (*maps.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("maps API key not set")
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// GeocodeAddress takes an address string and returns geocoding results.
func (g *Geocoder) GeocodeAddress(ctx context.Context, address string) ([]maps.GeocodingResult, error) {
	req := &maps.GeocodingRequest{
		Address: address,
	}

	// Forward geocode: get latitude and longitude for the given address.
	return g.client.Geocode(ctx, req)
}

// Geocode returns the best match for address.
func (g *Geocoder) Geocode(ctx context.Context, address string) (types.GeoPoint, error) {
	results, err := g.GeocodeAddress(ctx, address)
	if err != nil {
		return types.GeoPoint{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	if len(results) == 0 {
		return types.GeoPoint{}, fmt.Errorf("geocode %q: %w", address, ErrNoResults)
	}
	best := results[0]
	return types.GeoPoint{
		FormattedAddress: best.FormattedAddress,
		Lat:              best.Geometry.Location.Lat,
		Lng:              best.Geometry.Location.Lng,
	}, nil
}
