package sampler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"resbac/internal/models"
)

// ReplayProvider replays a recorded track, one JSON LocationSample per line.
// Gaps between recorded timestamps are replayed scaled by Speed, and emitted
// samples are restamped with the wall clock so downstream stages see a live feed.
type ReplayProvider struct {
	track  []models.LocationSample
	speed  float64
	loop   bool
	now    func() time.Time
	logger *zap.Logger
}

// LoadTrack reads a JSON-lines track.
func LoadTrack(r io.Reader) ([]models.LocationSample, error) {
	var track []models.LocationSample
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var s models.LocationSample
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("failed to decode track line %d: %w", line, err)
		}
		track = append(track, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read track: %w", err)
	}
	return track, nil
}

// NewReplayProviderFromFile loads a track file for replay.
func NewReplayProviderFromFile(path string, speed float64, loop bool, logger *zap.Logger) (*ReplayProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track file: %w", err)
	}
	defer f.Close()

	track, err := LoadTrack(f)
	if err != nil {
		return nil, err
	}
	return NewReplayProvider(track, speed, loop, logger), nil
}

func NewReplayProvider(track []models.LocationSample, speed float64, loop bool, logger *zap.Logger) *ReplayProvider {
	if speed <= 0 {
		speed = 1
	}
	return &ReplayProvider{track: track, speed: speed, loop: loop, now: time.Now, logger: logger}
}

type replaySub struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *replaySub) Remove() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

func (p *ReplayProvider) Watch(ctx context.Context, cfg Config, emit func(Reading)) (Subscription, error) {
	if len(p.track) == 0 {
		return nil, fmt.Errorf("replay track is empty")
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &replaySub{cancel: cancel}
	sub.wg.Add(1)

	go func() {
		defer sub.wg.Done()
		p.logger.Info("Replaying track", zap.Int("samples", len(p.track)), zap.Float64("speed", p.speed))
		for {
			var prev int64
			for i, s := range p.track {
				if i > 0 {
					gap := time.Duration(float64(time.Duration(s.CapturedAt-prev)*time.Millisecond) / p.speed)
					if gap < cfg.MinInterval {
						gap = cfg.MinInterval
					}
					if !sleepCtx(ctx, gap) {
						return
					}
				}
				prev = s.CapturedAt
				live := s
				live.CapturedAt = p.now().UnixMilli()
				emit(Reading{Sample: live})
			}
			if !p.loop {
				<-ctx.Done()
				return
			}
		}
	}()

	return sub, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
