package arrival

import (
	"sync"

	"resbac/internal/geo"
	"resbac/internal/models"
)

const (
	DefaultRadiusMeters      = 50.0
	DefaultMaxAccuracyMeters = 80.0
)

// Config holds the geofence thresholds.
type Config struct {
	RadiusMeters      float64
	MaxAccuracyMeters float64
}

func DefaultConfig() Config {
	return Config{RadiusMeters: DefaultRadiusMeters, MaxAccuracyMeters: DefaultMaxAccuracyMeters}
}

// Signal is emitted once when the responder reaches the target.
type Signal struct {
	Sample         models.LocationSample
	Target         models.Coordinate
	DistanceMeters float64
}

// Check is the stateless arrival rule.
func (c Config) Check(sample models.LocationSample, target models.Coordinate, alreadyArrived bool) (Signal, bool) {
	if alreadyArrived || sample.AccuracyMeters > c.MaxAccuracyMeters {
		return Signal{}, false
	}
	d := geo.Haversine(sample.Coordinate(), target)
	if d > c.RadiusMeters {
		return Signal{}, false
	}
	return Signal{Sample: sample, Target: target, DistanceMeters: d}, true
}

// Detector emits at most one Signal per target.
type Detector struct {
	cfg     Config
	mu      sync.Mutex
	target  models.Coordinate
	arrived bool
}

func NewDetector(cfg Config, target models.Coordinate) *Detector {
	return &Detector{cfg: cfg, target: target}
}

// Observe feeds one sample; ok is true only for the first qualifying sample.
func (d *Detector) Observe(sample models.LocationSample) (Signal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sig, ok := d.cfg.Check(sample, d.target, d.arrived)
	if ok {
		d.arrived = true
	}
	return sig, ok
}

// Arrived reports whether the signal has fired for the current target.
func (d *Detector) Arrived() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arrived
}

// Reset arms the detector for a new target.
func (d *Detector) Reset(target models.Coordinate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = target
	d.arrived = false
}

// MarkArrived disarms the detector without a signal, e.g. when the server
// already reports the incident on scene.
func (d *Detector) MarkArrived() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.arrived = true
}
