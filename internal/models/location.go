package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// LocationSample is a single position fix. CapturedAt is unix milliseconds.
type LocationSample struct {
	Latitude       float64 `json:"lat"`
	Longitude      float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy"`
	CapturedAt     int64   `json:"timestamp"`
}

// Coordinate returns the position of the sample.
func (s LocationSample) Coordinate() Coordinate {
	return Coordinate{Lat: s.Latitude, Lng: s.Longitude}
}

// Time returns CapturedAt as a time.Time.
func (s LocationSample) Time() time.Time {
	return time.UnixMilli(s.CapturedAt)
}

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Key is the cache key used for reverse geocoding lookups.
func (c Coordinate) Key() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// Label is the human fallback when no address is known.
func (c Coordinate) Label() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + ", " + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// PublishDecision is derived per sample and never stored.
type PublishDecision struct {
	Publish bool
	Sample  LocationSample
}

// FlexFloat decodes a JSON number or a numeric string. The API returns
// coordinates either way depending on the endpoint.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("bad coordinate: %w", ErrMalformedResponse)
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("bad coordinate %q: %w", s, ErrMalformedResponse)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("bad coordinate: %w", ErrMalformedResponse)
	}
	*f = FlexFloat(v)
	return nil
}
