package arrival

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"resbac/internal/geo"
	"resbac/internal/models"
)

var target = models.Coordinate{Lat: 14.79407719563481, Lng: 120.94294770863102}

func at(c models.Coordinate, acc float64, ms int64) models.LocationSample {
	return models.LocationSample{Latitude: c.Lat, Longitude: c.Lng, AccuracyMeters: acc, CapturedAt: ms}
}

func TestCheckGates(t *testing.T) {
	cfg := DefaultConfig()
	near := geo.Offset(target, 40, 0)
	far := geo.Offset(target, 60, 0)

	_, ok := cfg.Check(at(near, 70, 0), target, false)
	assert.True(t, ok)

	_, ok = cfg.Check(at(near, 81, 0), target, false)
	assert.False(t, ok, "accuracy gate")

	_, ok = cfg.Check(at(far, 10, 0), target, false)
	assert.False(t, ok, "radius gate")

	_, ok = cfg.Check(at(near, 10, 0), target, true)
	assert.False(t, ok, "already arrived")
}

func TestStreamEmitsOnceAtThirdSample(t *testing.T) {
	d := NewDetector(DefaultConfig(), target)
	stream := []models.LocationSample{
		at(geo.Offset(target, 200, 0), 50, 0),
		at(geo.Offset(target, 0, 200), 60, 1000),
		at(geo.Offset(target, 45, 0), 70, 2000),
	}

	var fired []int64
	for _, s := range stream {
		if sig, ok := d.Observe(s); ok {
			fired = append(fired, sig.Sample.CapturedAt)
			assert.InDelta(t, 45.0, sig.DistanceMeters, 0.1)
		}
	}
	require.Equal(t, []int64{2000}, fired)
	assert.True(t, d.Arrived())
}

func TestResetRearms(t *testing.T) {
	d := NewDetector(DefaultConfig(), target)
	_, ok := d.Observe(at(target, 5, 0))
	require.True(t, ok)

	next := geo.Offset(target, 500, 0)
	d.Reset(next)
	_, ok = d.Observe(at(target, 5, 1))
	assert.False(t, ok)
	_, ok = d.Observe(at(next, 5, 2))
	assert.True(t, ok)
}

func TestMarkArrivedSuppressesSignal(t *testing.T) {
	d := NewDetector(DefaultConfig(), target)
	d.MarkArrived()
	_, ok := d.Observe(at(target, 5, 0))
	assert.False(t, ok)
}

func TestAtMostOneSignal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := NewDetector(DefaultConfig(), target)
		n := rapid.IntRange(1, 100).Draw(t, "n")
		signals := 0
		for i := 0; i < n; i++ {
			p := geo.Offset(target, rapid.Float64Range(-120, 120).Draw(t, "n"), rapid.Float64Range(-120, 120).Draw(t, "e"))
			if _, ok := d.Observe(at(p, rapid.Float64Range(1, 150).Draw(t, "acc"), int64(i))); ok {
				signals++
			}
		}
		if signals > 1 {
			t.Fatalf("detector fired %d times", signals)
		}
	})
}
