package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"resbac/internal/models"
)

// Accuracy is the fix quality requested from the provider.
type Accuracy string

const (
	AccuracyLow        Accuracy = "low"
	AccuracyBalanced   Accuracy = "balanced"
	AccuracyHigh       Accuracy = "high"
	AccuracyNavigation Accuracy = "navigation"
)

// Config is passed to the provider when a watch starts.
type Config struct {
	DesiredAccuracy   Accuracy
	MinInterval       time.Duration
	MinDistanceMeters float64
}

// DefaultConfig matches what the responder screen watches with.
func DefaultConfig() Config {
	return Config{
		DesiredAccuracy:   AccuracyHigh,
		MinInterval:       3 * time.Second,
		MinDistanceMeters: 3,
	}
}

func (c Config) Validate() error {
	switch c.DesiredAccuracy {
	case AccuracyLow, AccuracyBalanced, AccuracyHigh, AccuracyNavigation:
	default:
		return fmt.Errorf("unknown accuracy %q", c.DesiredAccuracy)
	}
	if c.MinInterval < 0 || c.MinDistanceMeters < 0 {
		return errors.New("sampler intervals must not be negative")
	}
	return nil
}

// Reading is one element of the sample stream: either a sample or an error.
type Reading struct {
	Sample models.LocationSample
	Err    error
}

// Subscription is a live provider watch.
type Subscription interface {
	Remove()
}

// Provider is the device location source. Watch delivers readings through emit
// until the subscription is removed or ctx ends. Watch may fail with
// models.ErrPermissionDenied.
type Provider interface {
	Watch(ctx context.Context, cfg Config, emit func(Reading)) (Subscription, error)
}

var ErrAlreadyStarted = errors.New("sampler already started")

// Sampler turns a Provider into a restartable stream of readings.
type Sampler struct {
	provider Provider
	logger   *zap.Logger

	mu  sync.Mutex
	cur *run
}

func New(provider Provider, logger *zap.Logger) *Sampler {
	return &Sampler{provider: provider, logger: logger}
}

type run struct {
	cancel   context.CancelFunc
	out      chan Reading
	done     chan struct{}
	fatal    chan struct{}
	finished chan struct{}

	stopOnce  sync.Once
	fatalOnce sync.Once

	mu     sync.Mutex
	closed bool
	failed bool
}

// Start begins a watch. Provider failures, including permission denial, arrive
// on the returned channel as a Reading with Err set; the channel is closed when
// the watch ends.
func (s *Sampler) Start(ctx context.Context, cfg Config) (<-chan Reading, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampler config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return nil, ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		cancel:   cancel,
		out:      make(chan Reading, 16),
		done:     make(chan struct{}),
		fatal:    make(chan struct{}),
		finished: make(chan struct{}),
	}
	s.cur = r

	go s.watch(runCtx, cfg, r)
	return r.out, nil
}

func (s *Sampler) watch(ctx context.Context, cfg Config, r *run) {
	defer close(r.finished)
	defer s.release(r)

	sub, err := s.provider.Watch(ctx, cfg, r.emit)
	if err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			s.logger.Warn("Location permission denied, tracking disabled")
		} else {
			s.logger.Error("Failed to start location watch", zap.Error(err))
		}
		r.emit(Reading{Err: err})
		return
	}
	s.logger.Info("Location watch started",
		zap.String("accuracy", string(cfg.DesiredAccuracy)),
		zap.Duration("min_interval", cfg.MinInterval),
		zap.Float64("min_distance_m", cfg.MinDistanceMeters))

	select {
	case <-ctx.Done():
	case <-r.fatal:
		s.logger.Warn("Location watch ended by provider error")
	}
	// Unblock any emit still waiting on a full stream before releasing.
	r.stop()
	sub.Remove()
	s.logger.Info("Location watch stopped")
}

// release closes the stream and clears the current run so Start can be called again.
func (s *Sampler) release(r *run) {
	r.stop()
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.out)
	}
	r.mu.Unlock()

	s.mu.Lock()
	if s.cur == r {
		s.cur = nil
	}
	s.mu.Unlock()
}

func (r *run) stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		close(r.done)
	})
}

func (r *run) emit(rd Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.failed {
		return
	}
	select {
	case r.out <- rd:
	case <-r.done:
		return
	}
	if errors.Is(rd.Err, models.ErrPermissionDenied) {
		r.failed = true
		r.fatalOnce.Do(func() { close(r.fatal) })
	}
}

// Stop ends the current watch and waits until the provider subscription is
// released. Safe to call any number of times.
func (s *Sampler) Stop() {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return
	}
	r.stop()
	<-r.finished
}

// Running reports whether a watch is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}
