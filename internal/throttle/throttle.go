package throttle

import (
	"math"
	"time"

	"resbac/internal/geo"
	"resbac/internal/models"
)

const (
	DefaultMinMoveMeters       = 3.0
	DefaultMaxSilence          = 3000 * time.Millisecond
	DefaultAccuracyJitterMeter = 10.0
)

// Config bounds outbound location chatter.
type Config struct {
	MinMoveMeters        float64
	MaxSilence           time.Duration
	AccuracyJitterMeters float64
}

// DefaultConfig returns the thresholds the responder app publishes with.
func DefaultConfig() Config {
	return Config{
		MinMoveMeters:        DefaultMinMoveMeters,
		MaxSilence:           DefaultMaxSilence,
		AccuracyJitterMeters: DefaultAccuracyJitterMeter,
	}
}

// ShouldPublish is the pure publish rule. lastPublishedAt is the caller's record
// of the last accepted publish; it is ignored when previousSent is nil.
func (c Config) ShouldPublish(previousSent *models.LocationSample, candidate models.LocationSample, lastPublishedAt, now time.Time) bool {
	if previousSent == nil {
		return true
	}
	if geo.Haversine(previousSent.Coordinate(), candidate.Coordinate()) > c.MinMoveMeters {
		return true
	}
	if math.Abs(previousSent.AccuracyMeters-candidate.AccuracyMeters) > c.AccuracyJitterMeters {
		return true
	}
	return now.Sub(lastPublishedAt) >= c.MaxSilence
}

// Throttle keeps the last sent sample and its publish time explicitly.
// It is not safe for concurrent use; one sampler loop owns it.
type Throttle struct {
	cfg             Config
	lastSent        *models.LocationSample
	lastPublishedAt time.Time
}

func New(cfg Config) *Throttle {
	return &Throttle{cfg: cfg}
}

// Decide applies the publish rule to one sample without recording it.
func (t *Throttle) Decide(sample models.LocationSample, now time.Time) models.PublishDecision {
	return models.PublishDecision{
		Publish: t.cfg.ShouldPublish(t.lastSent, sample, t.lastPublishedAt, now),
		Sample:  sample,
	}
}

// Record marks sample as sent at now. Call it once the publish went out.
func (t *Throttle) Record(sample models.LocationSample, now time.Time) {
	s := sample
	t.lastSent = &s
	t.lastPublishedAt = now
}

// Offer decides for one sample and records it when accepted.
func (t *Throttle) Offer(sample models.LocationSample, now time.Time) models.PublishDecision {
	d := t.Decide(sample, now)
	if d.Publish {
		t.Record(sample, now)
	}
	return d
}

// LastSent returns the last accepted sample, if any.
func (t *Throttle) LastSent() (models.LocationSample, time.Time, bool) {
	if t.lastSent == nil {
		return models.LocationSample{}, time.Time{}, false
	}
	return *t.lastSent, t.lastPublishedAt, true
}

// Reset forgets the last sent sample, e.g. when the open incident changes.
func (t *Throttle) Reset() {
	t.lastSent = nil
	t.lastPublishedAt = time.Time{}
}
