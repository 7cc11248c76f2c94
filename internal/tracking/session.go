// Package tracking owns everything that runs for the one incident currently
// open on the device: the location pipeline, the status machine, the call
// session and the realtime subscriptions that feed them.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resbac/internal/api"
	"resbac/internal/arrival"
	"resbac/internal/call"
	"resbac/internal/models"
	"resbac/internal/notify"
	"resbac/internal/relay"
	"resbac/internal/sampler"
	"resbac/internal/status"
	"resbac/internal/throttle"
)

var (
	ErrClosed        = errors.New("tracking session closed")
	ErrCallActive    = errors.New("a call is already active for this incident")
	ErrNoCall        = errors.New("no active call")
	ErrNotResponder  = errors.New("only responders can change incident status")
	ErrNoAudioJoiner = errors.New("no audio joiner configured")
)

// API is the slice of the HTTP client a session needs.
type API interface {
	status.Acknowledger
	call.StatusChecker
	call.CallEnder
	GetReport(ctx context.Context, id int64) (*models.IncidentReport, error)
	SaveNotification(ctx context.Context, n api.Notification) error
}

// TrailWriter records published samples locally.
type TrailWriter interface {
	AppendTrail(ctx context.Context, sessionID string, incidentID int64, sample models.LocationSample) error
}

// Addresser resolves a coordinate to a display address.
type Addresser interface {
	Address(ctx context.Context, c models.Coordinate) string
}

type Config struct {
	Sampler  sampler.Config
	Throttle throttle.Config
	Arrival  arrival.Config
	Call     call.Config
	Relay    relay.Config
}

func DefaultConfig() Config {
	return Config{
		Sampler:  sampler.DefaultConfig(),
		Throttle: throttle.DefaultConfig(),
		Arrival:  arrival.DefaultConfig(),
		Call:     call.DefaultConfig(),
		Relay:    relay.DefaultConfig(),
	}
}

// Deps are the collaborators of a session. Trail, Geocoder, Notifier and
// Joiner are optional; Provider is only used for responders.
type Deps struct {
	API       API
	Transport relay.Transport
	Provider  sampler.Provider
	Joiner    call.AudioJoiner
	Trail     TrailWriter
	Geocoder  Addresser
	Notifier  notify.Notifier
	Logger    *zap.Logger
}

// LocationUpdate is what the responder publishes on the incident channel.
type LocationUpdate struct {
	IncidentID  int64   `json:"incident_id"`
	ResponderID int64   `json:"responder_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accuracy    float64 `json:"accuracy"`
	Timestamp   int64   `json:"timestamp"`
}

// Session is one open incident. Open starts it and Close tears it down.
type Session struct {
	id      string
	cfg     Config
	deps    Deps
	profile models.UserProfile
	logger  *zap.Logger
	now     func() time.Time

	machine  *status.Machine
	detector *arrival.Detector
	throttle *throttle.Throttle
	sampler  *sampler.Sampler
	relay    *relay.Relay

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// pipeMu guards throttle, which the track loop and target changes share.
	pipeMu sync.Mutex

	mu         sync.Mutex
	report     models.IncidentReport
	address    string
	call       *call.Session
	lastCall   *call.Snapshot
	published  int
	connected  bool
	permDenied bool
	closed     bool
}

// Open fetches the incident, subscribes to its channels and, for responders,
// starts publishing location.
func Open(ctx context.Context, incidentID int64, profile models.UserProfile, cfg Config, deps Deps) (*Session, error) {
	if deps.API == nil || deps.Transport == nil {
		return nil, errors.New("tracking session needs an API client and a broker transport")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(deps.Logger)
	}
	responder := profile.Role == models.UserResponder
	if responder && deps.Provider == nil {
		return nil, errors.New("responder session needs a location provider")
	}

	report, err := deps.API.GetReport(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %d: %w", incidentID, err)
	}

	id := uuid.NewString()
	logger := deps.Logger.With(zap.String("session_id", id), zap.Int64("incident_id", incidentID))
	s := &Session{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		profile:  profile,
		logger:   logger,
		now:      time.Now,
		report:   *report,
		machine:  status.NewMachine(incidentID, report.Status, deps.API, logger),
		detector: arrival.NewDetector(cfg.Arrival, report.Target),
		throttle: throttle.New(cfg.Throttle),
		relay:    relay.New(deps.Transport, cfg.Relay, logger),
	}
	if report.Status != models.StatusPending && report.Status != models.StatusEnRoute {
		s.detector.MarkArrived()
	}
	s.machine.OnChange(s.onStatusChange)

	if deps.Geocoder != nil && report.HasTarget() {
		s.address = deps.Geocoder.Address(ctx, report.Target)
	} else if report.HasTarget() {
		s.address = report.Target.Label()
	}

	s.registerHandlers()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.relay.Start(s.ctx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}
	s.wg.Add(1)
	go s.watchRelay()

	if responder {
		s.sampler = sampler.New(deps.Provider, logger)
		readings, err := s.sampler.Start(s.ctx, cfg.Sampler)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to start location sampler: %w", err)
		}
		s.wg.Add(1)
		go s.track(readings)
	}

	logger.Info("Tracking session opened",
		zap.String("role", string(profile.Role)),
		zap.String("status", report.Status.String()),
		zap.String("address", s.address))
	return s, nil
}

func (s *Session) ID() string        { return s.id }
func (s *Session) IncidentID() int64 { return s.report.ID }

// Status returns the incident status snapshot.
func (s *Session) Status() status.Snapshot { return s.machine.Snapshot() }

// OnStatusChange registers a listener on the status machine.
func (s *Session) OnStatusChange(fn func(status.Change)) { s.machine.OnChange(fn) }

// Info is the display view of the session.
type Info struct {
	SessionID          string            `json:"session_id"`
	IncidentID         int64             `json:"incident_id"`
	Role               models.UserRole   `json:"role"`
	Status             string            `json:"status"`
	Confirmed          string            `json:"confirmed"`
	Pending            bool              `json:"pending"`
	Stale              bool              `json:"stale"`
	LastError          string            `json:"last_error,omitempty"`
	Address            string            `json:"address,omitempty"`
	Target             models.Coordinate `json:"target"`
	DuplicateOf        *int64            `json:"duplicate_of,omitempty"`
	Arrived            bool              `json:"arrived"`
	Published          int               `json:"published"`
	Connected          bool              `json:"connected"`
	LocationPermission bool              `json:"location_permission"`
	Call               *call.Snapshot    `json:"call,omitempty"`
}

func (s *Session) Info() Info {
	st := s.machine.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		SessionID:          s.id,
		IncidentID:         s.report.ID,
		Role:               s.profile.Role,
		Status:             st.Status.String(),
		Confirmed:          st.Confirmed.String(),
		Pending:            st.Pending,
		Stale:              st.Stale,
		Address:            s.address,
		Target:             s.report.Target,
		DuplicateOf:        s.report.DuplicateOf,
		Arrived:            s.detector.Arrived(),
		Published:          s.published,
		Connected:          s.connected,
		LocationPermission: !s.permDenied,
	}
	if st.LastError != nil {
		info.LastError = st.LastError.Error()
	}
	if s.call != nil {
		cs := s.call.Snapshot()
		info.Call = &cs
	} else if s.lastCall != nil {
		cs := *s.lastCall
		info.Call = &cs
	}
	return info
}

// Summary is the one-line status used by chat commands.
func (s *Session) Summary() string {
	st := s.machine.Snapshot()
	line := fmt.Sprintf("Incident #%d: %s", s.report.ID, st.Status)
	if st.Pending {
		line += " (syncing)"
	}
	if st.Stale {
		line += " (out of date)"
	}
	return line
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RequestStatus applies a manual transition.
func (s *Session) RequestStatus(ctx context.Context, target models.IncidentStatus) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.profile.Role != models.UserResponder {
		return ErrNotResponder
	}
	return s.machine.Request(ctx, target, status.SourceManual)
}

// RequestBackup asks for reinforcement and leaves a notification for the
// responder's team. The notification is best effort.
func (s *Session) RequestBackup(ctx context.Context, req models.BackupRequest) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.profile.Role != models.UserResponder {
		return ErrNotResponder
	}
	req = req.WithDefaults()
	if err := s.machine.RequestBackup(ctx, req); err != nil {
		return err
	}

	msg := fmt.Sprintf("%s requested %s backup for incident #%d (%s)",
		s.profile.DisplayName(), req.BackupType, s.report.ID, req.Reason)
	n := api.Notification{Message: msg, TeamID: s.profile.TeamID}
	if n.TeamID == nil {
		uid := s.profile.ID
		n.UserID = &uid
	}
	if err := s.deps.API.SaveNotification(ctx, n); err != nil {
		s.logger.Warn("Failed to save backup notification", zap.Error(err))
	}
	s.notify(ctx, notify.Notice{Kind: notify.KindBackupRequested, IncidentID: s.report.ID, Title: "Backup requested", Body: msg})
	return nil
}

// StartCall dials the dispatcher for the incident.
func (s *Session) StartCall(ctx context.Context) (call.Snapshot, error) {
	if s.deps.Joiner == nil {
		return call.Snapshot{}, ErrNoAudioJoiner
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return call.Snapshot{}, ErrClosed
	}
	if s.call != nil && s.call.State() != models.CallEnded {
		s.mu.Unlock()
		return call.Snapshot{}, ErrCallActive
	}
	prev := s.call
	cs := call.NewSession(s.report.ID, string(s.profile.Role), s.cfg.Call, s.deps.API, s.deps.Joiner, s.deps.API, s.logger)
	s.call = cs
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	cs.OnChange(s.onCallChange)
	if err := cs.Dial(s.ctx); err != nil {
		return call.Snapshot{}, err
	}
	return cs.Snapshot(), nil
}

// Hangup ends the active call locally.
func (s *Session) Hangup(ctx context.Context) (call.Snapshot, error) {
	s.mu.Lock()
	cs := s.call
	s.mu.Unlock()
	if cs == nil {
		return call.Snapshot{}, ErrNoCall
	}
	if !cs.Hangup(ctx, string(s.profile.Role)) {
		return cs.Snapshot(), ErrNoCall
	}
	return cs.Snapshot(), nil
}

// Call returns the current or last call, if any.
func (s *Session) Call() (call.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call != nil {
		return s.call.Snapshot(), true
	}
	if s.lastCall != nil {
		return *s.lastCall, true
	}
	return call.Snapshot{}, false
}

func (s *Session) activeCall() *call.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

func (s *Session) onCallChange(snap call.Snapshot) {
	if snap.State != models.CallEnded {
		return
	}
	s.mu.Lock()
	last := snap
	s.lastCall = &last
	s.mu.Unlock()
	s.notify(s.ctx, notify.Notice{
		Kind:       notify.KindCallEnded,
		IncidentID: snap.IncidentID,
		Title:      "Call ended",
		Body:       fmt.Sprintf("Reason: %s, duration %ds", snap.Reason, snap.Seconds),
	})
}

func (s *Session) onStatusChange(ch status.Change) {
	snap := ch.Snapshot
	if snap.Status != models.StatusPending && snap.Status != models.StatusEnRoute && ch.Cause != status.CauseApplied {
		s.detector.MarkArrived()
	}
	if ch.Cause == status.CauseReverted && snap.LastError != nil && ch.Source != status.SourceServer {
		s.notify(s.ctx, notify.Notice{
			Kind:       notify.KindSyncFailed,
			IncidentID: snap.IncidentID,
			Title:      "Status not saved",
			Body:       fmt.Sprintf("Showing %s again: %v", snap.Status, snap.LastError),
		})
	}
}

// track runs the location pipeline until the sampler stream closes.
func (s *Session) track(readings <-chan sampler.Reading) {
	defer s.wg.Done()
	for rd := range readings {
		if rd.Err != nil {
			if errors.Is(rd.Err, models.ErrPermissionDenied) {
				s.mu.Lock()
				s.permDenied = true
				s.mu.Unlock()
			}
			s.logger.Warn("Location reading failed", zap.Error(rd.Err))
			continue
		}
		s.offer(rd.Sample)
	}
}

func (s *Session) offer(sample models.LocationSample) {
	now := s.now()
	s.pipeMu.Lock()
	d := s.throttle.Decide(sample, now)
	s.pipeMu.Unlock()
	// Only a sample that went out counts as sent.
	if d.Publish && s.publish(d.Sample) {
		s.pipeMu.Lock()
		s.throttle.Record(d.Sample, now)
		s.pipeMu.Unlock()
	}
	if s.machine.Status() != models.StatusEnRoute {
		return
	}
	sig, ok := s.detector.Observe(sample)
	if !ok {
		return
	}
	s.logger.Info("Arrived at incident", zap.Float64("distance_m", sig.DistanceMeters))
	if err := s.machine.Request(s.ctx, models.StatusOnScene, status.SourceArrival); err != nil {
		s.logger.Warn("Arrival transition failed", zap.Error(err))
	}
}

func (s *Session) publish(sample models.LocationSample) bool {
	upd := LocationUpdate{
		IncidentID:  s.report.ID,
		ResponderID: s.profile.ID,
		Latitude:    sample.Latitude,
		Longitude:   sample.Longitude,
		Accuracy:    sample.AccuracyMeters,
		Timestamp:   sample.CapturedAt,
	}
	if err := s.relay.Publish(s.ctx, relay.IncidentChannel(s.report.ID), relay.EventResponderMoved, upd); err != nil {
		s.logger.Debug("Location publish failed", zap.Error(err))
		return false
	}
	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	if s.deps.Trail != nil {
		if err := s.deps.Trail.AppendTrail(s.ctx, s.id, s.report.ID, sample); err != nil {
			s.logger.Warn("Failed to record trail", zap.Error(err))
		}
	}
	return true
}

func (s *Session) watchRelay() {
	defer s.wg.Done()
	for n := range s.relay.Notices() {
		switch n.Kind {
		case relay.NoticeConnected:
			s.setConnected(true)
		case relay.NoticeDisconnected:
			s.setConnected(false)
		}
	}
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Session) notify(ctx context.Context, n notify.Notice) {
	if err := s.deps.Notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("Notification failed", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

// Close stops the sampler, the relay and the call. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cs := s.call
		s.mu.Unlock()

		if s.sampler != nil {
			s.sampler.Stop()
		}
		if cs != nil {
			cs.Close()
		}
		s.relay.Close()
		s.cancel()
		s.wg.Wait()
		s.logger.Info("Tracking session closed")
	})
}
