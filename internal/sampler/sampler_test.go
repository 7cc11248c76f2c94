package sampler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"resbac/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(t *testing.T, ch <-chan Reading, n int) []Reading {
	t.Helper()
	var out []Reading
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatalf("timed out after %d of %d readings", len(out), n)
		}
	}
	return out
}

func TestStartDeliversInOrder(t *testing.T) {
	p := &ScriptedProvider{Steps: []Step{
		{Sample: models.LocationSample{Latitude: 1, CapturedAt: 1}},
		{Delay: time.Millisecond, Sample: models.LocationSample{Latitude: 2, CapturedAt: 2}},
		{Delay: time.Millisecond, Sample: models.LocationSample{Latitude: 3, CapturedAt: 3}},
	}}
	s := New(p, zap.NewNop())

	ch, err := s.Start(context.Background(), DefaultConfig())
	require.NoError(t, err)

	got := collect(t, ch, 3)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.NoError(t, r.Err)
		assert.Equal(t, int64(i+1), r.Sample.CapturedAt)
	}

	s.Stop()
	s.Stop()
	assert.Equal(t, 1, p.Removals())
	_, open := <-ch
	assert.False(t, open)
}

func TestPermissionDeniedIsAReading(t *testing.T) {
	s := New(&ScriptedProvider{DenyOnWatch: true}, zap.NewNop())

	ch, err := s.Start(context.Background(), DefaultConfig())
	require.NoError(t, err, "denial must not fail Start synchronously")

	got := collect(t, ch, 2)
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, models.ErrPermissionDenied)
	s.Stop()
}

func TestPermissionRevokedMidSessionEndsStream(t *testing.T) {
	p := &ScriptedProvider{Steps: []Step{
		{Sample: models.LocationSample{CapturedAt: 1}},
		{Err: models.ErrPermissionDenied},
		{Sample: models.LocationSample{CapturedAt: 2}},
	}}
	s := New(p, zap.NewNop())
	ch, err := s.Start(context.Background(), DefaultConfig())
	require.NoError(t, err)

	got := collect(t, ch, 5)
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[1].Err, models.ErrPermissionDenied)
	s.Stop()
	assert.Equal(t, 1, p.Removals())
}

func TestRestartOpensFreshWatch(t *testing.T) {
	p := &ScriptedProvider{Steps: []Step{{Sample: models.LocationSample{CapturedAt: 7}}}}
	s := New(p, zap.NewNop())

	for i := 0; i < 2; i++ {
		ch, err := s.Start(context.Background(), DefaultConfig())
		require.NoError(t, err)
		got := collect(t, ch, 1)
		require.Len(t, got, 1)
		s.Stop()
		assert.False(t, s.Running())
	}
	assert.Equal(t, 2, p.Watches())
	assert.Equal(t, 2, p.Removals())
}

func TestStartTwiceFails(t *testing.T) {
	s := New(&ScriptedProvider{}, zap.NewNop())
	_, err := s.Start(context.Background(), DefaultConfig())
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.Start(context.Background(), DefaultConfig())
	assert.True(t, errors.Is(err, ErrAlreadyStarted))
}

func TestStopWithUnreadBacklog(t *testing.T) {
	steps := make([]Step, 64)
	for i := range steps {
		steps[i] = Step{Sample: models.LocationSample{CapturedAt: int64(i)}}
	}
	p := &ScriptedProvider{Steps: steps}
	s := New(p, zap.NewNop())
	_, err := s.Start(context.Background(), DefaultConfig())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	s.Stop()
	assert.Equal(t, 1, p.Removals())
}

func TestContextCancelReleases(t *testing.T) {
	p := &ScriptedProvider{}
	s := New(p, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Start(ctx, DefaultConfig())
	require.NoError(t, err)

	cancel()
	for range ch {
	}
	assert.Equal(t, 1, p.Removals())
	s.Stop()
}

func TestInvalidConfig(t *testing.T) {
	s := New(&ScriptedProvider{}, zap.NewNop())
	_, err := s.Start(context.Background(), Config{DesiredAccuracy: "perfect"})
	assert.Error(t, err)
}

func TestReplayRestampsSamples(t *testing.T) {
	track, err := LoadTrack(strings.NewReader(
		`{"lat":14.79,"lng":120.94,"accuracy":12,"timestamp":1000}` + "\n\n" +
			`{"lat":14.7901,"lng":120.94,"accuracy":10,"timestamp":1020}` + "\n"))
	require.NoError(t, err)
	require.Len(t, track, 2)

	p := NewReplayProvider(track, 1, false, zap.NewNop())
	fixed := time.UnixMilli(5_000_000)
	p.now = func() time.Time { return fixed }

	s := New(p, zap.NewNop())
	ch, err := s.Start(context.Background(), Config{DesiredAccuracy: AccuracyHigh})
	require.NoError(t, err)
	got := collect(t, ch, 2)
	s.Stop()

	require.Len(t, got, 2)
	assert.Equal(t, fixed.UnixMilli(), got[1].Sample.CapturedAt)
	assert.Equal(t, 14.7901, got[1].Sample.Latitude)
}

func TestLoadTrackRejectsGarbage(t *testing.T) {
	_, err := LoadTrack(strings.NewReader("{not json}\n"))
	assert.Error(t, err)
}
