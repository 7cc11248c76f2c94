package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"resbac/internal/models"
)

// Step is one scripted provider event.
type Step struct {
	Delay  time.Duration
	Sample models.LocationSample
	Err    error
}

// ScriptedProvider plays a fixed list of steps. It stands in for the device
// provider wherever a deterministic source is needed.
type ScriptedProvider struct {
	Steps []Step
	// DenyOnWatch makes Watch fail with models.ErrPermissionDenied.
	DenyOnWatch bool

	watches  atomic.Int32
	removals atomic.Int32
}

type scriptedSub struct {
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	once   sync.Once
	p      *ScriptedProvider
}

func (s *scriptedSub) Remove() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.p.removals.Add(1)
	})
}

func (p *ScriptedProvider) Watch(ctx context.Context, _ Config, emit func(Reading)) (Subscription, error) {
	if p.DenyOnWatch {
		return nil, models.ErrPermissionDenied
	}
	p.watches.Add(1)

	ctx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, st := range p.Steps {
			if st.Delay > 0 {
				t := time.NewTimer(st.Delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			if ctx.Err() != nil {
				return
			}
			emit(Reading{Sample: st.Sample, Err: st.Err})
		}
		<-ctx.Done()
	}()

	return &scriptedSub{cancel: cancel, wg: wg, p: p}, nil
}

// Watches returns how many watches were opened.
func (p *ScriptedProvider) Watches() int { return int(p.watches.Load()) }

// Removals returns how many subscriptions were released.
func (p *ScriptedProvider) Removals() int { return int(p.removals.Load()) }
