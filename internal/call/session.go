package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resbac/internal/models"
)

// Poll is one answer from the call-status endpoint.
type Poll struct {
	Status      models.CallPollStatus
	Credentials *models.CallCredentials
}

// StatusChecker polls the server for the dispatcher's answer.
type StatusChecker interface {
	CallStatus(ctx context.Context, incidentID int64) (Poll, error)
}

// CallEnder tells the server the call is over.
type CallEnder interface {
	EndCall(ctx context.Context, incidentID int64, endedBy string) error
}

// AudioSession is a joined audio channel.
type AudioSession interface {
	Leave() error
	Destroy()
}

// AudioJoiner joins the audio channel described by the credentials.
type AudioJoiner interface {
	Join(ctx context.Context, creds models.CallCredentials) (AudioSession, error)
}

type Config struct {
	PollInterval time.Duration
	Tick         time.Duration
	// RingTimeout ends an unanswered call. Zero disables it.
	RingTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: 3 * time.Second, Tick: time.Second}
}

// Snapshot is the display view of a call.
type Snapshot struct {
	SessionID  string           `json:"id"`
	IncidentID int64            `json:"incident_id"`
	State      models.CallState `json:"state"`
	Seconds    int              `json:"seconds"`
	Reason     models.EndReason `json:"reason,omitempty"`
	EndedBy    string           `json:"ended_by,omitempty"`
}

// Session drives one call for one incident. Poll results and pushed events are
// racing producers of the same transitions: the first to arrive wins and the
// other becomes a no-op.
type Session struct {
	id         string
	incidentID int64
	role       string
	cfg        Config
	checker    StatusChecker
	joiner     AudioJoiner
	ender      CallEnder
	logger     *zap.Logger

	mu        sync.Mutex
	state     models.CallState
	seconds   int
	audio     AudioSession
	reason    models.EndReason
	endedBy   string
	cancel    context.CancelFunc
	runCtx    context.Context
	listeners []func(Snapshot)

	wg           sync.WaitGroup
	finalizeOnce sync.Once
	done         chan struct{}
}

func NewSession(incidentID int64, role string, cfg Config, checker StatusChecker, joiner AudioJoiner, ender CallEnder, logger *zap.Logger) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	id := uuid.NewString()
	return &Session{
		id:         id,
		incidentID: incidentID,
		role:       role,
		cfg:        cfg,
		checker:    checker,
		joiner:     joiner,
		ender:      ender,
		logger:     logger.With(zap.String("call_id", id), zap.Int64("incident_id", incidentID)),
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Done is closed once the session has been finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:  s.id,
		IncidentID: s.incidentID,
		State:      s.state,
		Seconds:    s.seconds,
		Reason:     s.reason,
		EndedBy:    s.endedBy,
	}
}

// Dial moves Idle to Calling and starts polling for the dispatcher's answer.
func (s *Session) Dial(ctx context.Context) error {
	s.mu.Lock()
	if s.state != models.CallIdle {
		from := s.state
		s.mu.Unlock()
		return &models.TransitionError{From: from.String(), To: models.CallCalling.String()}
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.state = models.CallCalling
	runCtx := s.runCtx
	snap := s.snapshotLocked()
	s.wg.Add(1)
	go s.pollLoop(runCtx)
	if s.cfg.RingTimeout > 0 {
		s.wg.Add(1)
		go s.ringTimer(runCtx)
	}
	s.mu.Unlock()

	s.logger.Info("Call dialing", zap.Duration("poll_interval", s.cfg.PollInterval))
	s.notify(snap)
	return nil
}

func (s *Session) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.State() != models.CallCalling {
			return
		}
		poll, err := s.checker.CallStatus(ctx, s.incidentID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Call status poll failed", zap.Error(err))
			continue
		}
		switch poll.Status {
		case models.PollAccepted:
			if poll.Credentials == nil {
				s.logger.Warn("Call accepted without audio credentials")
				continue
			}
			s.Accepted(*poll.Credentials)
			return
		case models.PollEnded:
			s.Ended(models.EndRemote)
			return
		}
	}
}

func (s *Session) ringTimer(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTimer(s.cfg.RingTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	if s.State() != models.CallCalling {
		return
	}
	if s.end(models.EndUnanswered, s.role) {
		s.logger.Info("Call unanswered", zap.Duration("ring_timeout", s.cfg.RingTimeout))
		s.notifyServer(s.role)
	}
}

// State returns the current call state.
func (s *Session) State() models.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Accepted applies a dispatcher acceptance. It returns false when the session
// has already left Calling.
func (s *Session) Accepted(creds models.CallCredentials) bool {
	if err := creds.Validate(); err != nil {
		s.logger.Warn("Ignoring acceptance", zap.Error(err))
		return false
	}
	s.mu.Lock()
	if s.state != models.CallCalling {
		s.mu.Unlock()
		return false
	}
	s.state = models.CallConnecting
	ctx := s.runCtx
	snap := s.snapshotLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Call accepted, joining audio", zap.String("channel", creds.ChannelName))
	s.notify(snap)
	go s.connect(ctx, creds)
	return true
}

func (s *Session) connect(ctx context.Context, creds models.CallCredentials) {
	defer s.wg.Done()
	audio, err := s.joiner.Join(ctx, creds)
	if err != nil {
		s.logger.Error("Failed to join audio channel", zap.Error(err))
		s.end(models.EndAudioFailed, "")
		return
	}

	s.mu.Lock()
	if s.state != models.CallConnecting {
		s.mu.Unlock()
		// Ended while joining; the session never owned this audio.
		releaseAudio(audio, s.logger)
		return
	}
	s.state = models.CallConnected
	s.audio = audio
	snap := s.snapshotLocked()
	s.wg.Add(1)
	go s.tick(ctx)
	s.mu.Unlock()

	s.logger.Info("Call connected")
	s.notify(snap)
}

func (s *Session) tick(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if s.state != models.CallConnected {
			s.mu.Unlock()
			return
		}
		s.seconds++
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)
	}
}

// Ended applies a remote end. It returns false when the call was already over.
func (s *Session) Ended(reason models.EndReason) bool {
	return s.end(reason, "")
}

// Hangup ends the call locally and tells the server who ended it. Server
// failures are logged only; the local call is over regardless.
func (s *Session) Hangup(ctx context.Context, endedBy string) bool {
	if !s.end(models.EndHangup, endedBy) {
		return false
	}
	if err := s.ender.EndCall(ctx, s.incidentID, endedBy); err != nil {
		s.logger.Warn("Failed to notify server of call end", zap.Error(err))
	}
	return true
}

func (s *Session) notifyServer(endedBy string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ender.EndCall(ctx, s.incidentID, endedBy); err != nil {
		s.logger.Warn("Failed to notify server of call end", zap.Error(err))
	}
}

func (s *Session) end(reason models.EndReason, endedBy string) bool {
	s.mu.Lock()
	if s.state == models.CallEnded || s.state == models.CallIdle {
		s.mu.Unlock()
		return false
	}
	s.state = models.CallEnded
	s.reason = reason
	s.endedBy = endedBy
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.finalize()
	s.logger.Info("Call ended", zap.String("reason", string(reason)), zap.Int("seconds", snap.Seconds))
	s.notify(snap)
	return true
}

// finalize releases everything the call holds. It runs once however many end
// triggers race.
func (s *Session) finalize() {
	s.finalizeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		audio := s.audio
		s.audio = nil
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if audio != nil {
			releaseAudio(audio, s.logger)
		}
		close(s.done)
	})
}

func releaseAudio(a AudioSession, logger *zap.Logger) {
	if err := a.Leave(); err != nil {
		logger.Warn("Failed to leave audio channel", zap.Error(err))
	}
	a.Destroy()
}

// Close ends the call if it is still live and waits for its goroutines.
func (s *Session) Close() {
	if !s.end(models.EndTeardown, "") {
		s.mu.Lock()
		if s.state == models.CallIdle {
			s.state = models.CallEnded
			s.reason = models.EndTeardown
		}
		s.mu.Unlock()
	}
	s.finalize()
	s.wg.Wait()
}

func (s *Session) notify(snap Snapshot) {
	s.mu.Lock()
	listeners := append([]func(Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s %s %ds", s.SessionID, s.State, s.Seconds)
}
