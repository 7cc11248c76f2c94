package geocode

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"resbac/internal/models"
)

// Google is the Google Maps reverse geocoding API.
type Google struct {
	client *maps.Client
}

// NewGoogle builds a Google geocoder. baseURL is only set in tests.
func NewGoogle(apiKey, baseURL string) (*Google, error) {
	opts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, maps.WithBaseURL(baseURL))
	}
	c, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Google{client: c}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) Reverse(ctx context.Context, c models.Coordinate) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: c.Lat, Lng: c.Lng},
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("google reverse geocode failed: %w", err)
	}
	if len(results) == 0 || results[0].FormattedAddress == "" {
		return "", ErrNoResult
	}
	return results[0].FormattedAddress, nil
}
