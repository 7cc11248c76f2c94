package relay

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: exponential from Initial, capped at Max,
// with a symmetric random Jitter fraction.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64

	rand func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second, Jitter: 0.2}
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	d := b.Initial
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		r := rand.Float64
		if b.rand != nil {
			r = b.rand
		}
		d = time.Duration(float64(d) * (1 + b.Jitter*(2*r()-1)))
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}
