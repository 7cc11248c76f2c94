package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"resbac/internal/models"
)

// Source identifies what asked for a transition.
type Source string

const (
	SourceManual  Source = "manual"
	SourceArrival Source = "arrival"
	SourceServer  Source = "server"
)

// Acknowledger confirms local transitions with the server.
type Acknowledger interface {
	UpdateStatus(ctx context.Context, incidentID int64, status models.IncidentStatus) error
	RequestBackup(ctx context.Context, incidentID int64, req models.BackupRequest) error
}

// Cause explains why a snapshot changed.
type Cause string

const (
	CauseApplied   Cause = "applied"   // optimistic local change
	CauseConfirmed Cause = "confirmed" // server acknowledged the local change
	CauseReverted  Cause = "reverted"  // acknowledgement failed
	CauseServer    Cause = "server"    // authoritative push
)

// Snapshot is what a view needs to render the incident status.
type Snapshot struct {
	IncidentID int64
	Status     models.IncidentStatus
	Confirmed  models.IncidentStatus
	Pending    bool
	Stale      bool
	LastError  error
	UpdatedAt  time.Time
}

// Change is delivered to listeners after every committed transition.
type Change struct {
	Snapshot Snapshot
	Cause    Cause
	Source   Source
}

type edge struct{ from, to models.IncidentStatus }

var localEdges = map[edge]map[Source]bool{
	{models.StatusPending, models.StatusEnRoute}:  {SourceManual: true},
	{models.StatusEnRoute, models.StatusOnScene}:  {SourceManual: true, SourceArrival: true},
	{models.StatusOnScene, models.StatusResolved}: {SourceManual: true},
}

type pendingChange struct {
	gen    uint64
	target models.IncidentStatus
	source Source
}

// Machine is the local mirror of one incident's status. Every transition is
// committed under mu and mu is never held across an acknowledgement call.
type Machine struct {
	incidentID int64
	ack        Acknowledger
	logger     *zap.Logger
	now        func() time.Time

	// sem orders local requests so at most one acknowledgement is in flight.
	sem chan struct{}

	mu        sync.Mutex
	current   models.IncidentStatus
	confirmed models.IncidentStatus
	pending   *pendingChange
	gen       uint64
	stale     bool
	lastErr   error
	updatedAt time.Time
	listeners []func(Change)
}

func NewMachine(incidentID int64, initial models.IncidentStatus, ack Acknowledger, logger *zap.Logger) *Machine {
	return &Machine{
		incidentID: incidentID,
		ack:        ack,
		logger:     logger.With(zap.Int64("incident_id", incidentID)),
		now:        time.Now,
		sem:        make(chan struct{}, 1),
		current:    initial,
		confirmed:  initial,
		updatedAt:  time.Now(),
	}
}

// OnChange registers a listener. Listeners run synchronously after the state
// lock is released, in registration order.
func (m *Machine) OnChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Snapshot returns the current view of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Status returns the status currently shown, optimistic or confirmed.
func (m *Machine) Status() models.IncidentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		IncidentID: m.incidentID,
		Status:     m.current,
		Confirmed:  m.confirmed,
		Pending:    m.pending != nil,
		Stale:      m.stale,
		LastError:  m.lastErr,
		UpdatedAt:  m.updatedAt,
	}
}

func (m *Machine) checkLocal(target models.IncidentStatus, source Source) (noop bool, err error) {
	if m.current.Terminal() {
		return false, &models.TransitionError{From: m.current.String(), To: target.String()}
	}
	if target == m.current {
		return true, nil
	}
	if target == models.StatusCancelled && source == SourceManual {
		return false, nil
	}
	if localEdges[edge{m.current, target}][source] {
		return false, nil
	}
	return false, &models.TransitionError{From: m.current.String(), To: target.String()}
}

// Request applies a local transition optimistically and confirms it with the
// server. A request for the status already shown is a no-op. On
// acknowledgement failure the machine reverts to the last confirmed status and
// returns a *models.SyncError.
func (m *Machine) Request(ctx context.Context, target models.IncidentStatus, source Source) error {
	if target == models.StatusRequestingBackup {
		return &models.TransitionError{From: m.Status().String(), To: target.String()}
	}
	return m.run(ctx, target, source, func(ctx context.Context) error {
		return m.ack.UpdateStatus(ctx, m.incidentID, target)
	})
}

// RequestBackup moves EnRoute or OnScene to RequestingBackup.
func (m *Machine) RequestBackup(ctx context.Context, req models.BackupRequest) error {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return err
	}
	return m.run(ctx, models.StatusRequestingBackup, SourceManual, func(ctx context.Context) error {
		return m.ack.RequestBackup(ctx, m.incidentID, req)
	})
}

func (m *Machine) allowBackup() bool {
	return m.current == models.StatusEnRoute || m.current == models.StatusOnScene
}

func (m *Machine) precheck(target models.IncidentStatus, source Source) (bool, error) {
	if target == models.StatusRequestingBackup {
		if m.current == target {
			return true, nil
		}
		if !m.allowBackup() {
			return false, &models.TransitionError{From: m.current.String(), To: target.String()}
		}
		return false, nil
	}
	return m.checkLocal(target, source)
}

func (m *Machine) run(ctx context.Context, target models.IncidentStatus, source Source, confirm func(context.Context) error) error {
	m.mu.Lock()
	noop, err := m.precheck(target, source)
	m.mu.Unlock()
	if err != nil || noop {
		return err
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("status request cancelled: %w", ctx.Err())
	}
	defer func() { <-m.sem }()

	// Re-check: a server push or an earlier request may have moved the state.
	m.mu.Lock()
	noop, err = m.precheck(target, source)
	if err != nil || noop {
		m.mu.Unlock()
		return err
	}
	m.gen++
	gen := m.gen
	from := m.current
	m.pending = &pendingChange{gen: gen, target: target, source: source}
	m.current = target
	m.updatedAt = m.now()
	applied := m.changeLocked(CauseApplied, source)
	m.mu.Unlock()
	m.notify(applied)

	m.logger.Info("Status applied locally",
		zap.String("from", from.String()),
		zap.String("to", target.String()),
		zap.String("source", string(source)))

	ackErr := confirm(ctx)

	m.mu.Lock()
	if m.pending == nil || m.pending.gen != gen {
		m.mu.Unlock()
		m.logger.Info("Local status superseded by server", zap.String("attempted", target.String()))
		return nil
	}
	m.pending = nil
	m.updatedAt = m.now()
	if ackErr != nil {
		syncErr := &models.SyncError{Attempted: target, Reverted: m.confirmed, Err: ackErr}
		m.current = m.confirmed
		m.stale = true
		m.lastErr = syncErr
		reverted := m.changeLocked(CauseReverted, source)
		m.mu.Unlock()
		m.notify(reverted)
		m.logger.Warn("Status not confirmed, reverted", zap.Error(syncErr))
		return syncErr
	}
	m.confirmed = target
	m.stale = false
	m.lastErr = nil
	confirmed := m.changeLocked(CauseConfirmed, source)
	m.mu.Unlock()
	m.notify(confirmed)
	m.logger.Info("Status confirmed", zap.String("status", target.String()))
	return nil
}

// ApplyServer overwrites the mirror with an authoritative status. Any pending
// optimistic change is discarded. Pushes cannot move a confirmed terminal status.
func (m *Machine) ApplyServer(s models.IncidentStatus) error {
	m.mu.Lock()
	if m.confirmed.Terminal() && s != m.confirmed {
		m.mu.Unlock()
		return &models.TransitionError{From: m.confirmed.String(), To: s.String()}
	}
	if m.pending != nil {
		m.logger.Info("Server status overrides pending local change",
			zap.String("pending", m.pending.target.String()),
			zap.String("server", s.String()))
	}
	if m.pending == nil && m.current == s && m.confirmed == s && !m.stale {
		m.mu.Unlock()
		return nil
	}
	m.pending = nil
	m.current = s
	m.confirmed = s
	m.stale = false
	m.lastErr = nil
	m.updatedAt = m.now()
	ch := m.changeLocked(CauseServer, SourceServer)
	m.mu.Unlock()
	m.notify(ch)
	return nil
}

// BackupResolved applies the dispatcher's notice that backup arrived.
func (m *Machine) BackupResolved() error {
	m.mu.Lock()
	if m.confirmed != models.StatusRequestingBackup && m.current != models.StatusRequestingBackup {
		from := m.current
		m.mu.Unlock()
		if from == models.StatusOnScene {
			return nil
		}
		return &models.TransitionError{From: from.String(), To: models.StatusOnScene.String()}
	}
	m.mu.Unlock()
	return m.ApplyServer(models.StatusOnScene)
}

// MarkStale flags the mirror as possibly out of date, e.g. when a refresh failed.
func (m *Machine) MarkStale(err error) {
	m.mu.Lock()
	m.stale = true
	m.lastErr = err
	ch := m.changeLocked(CauseReverted, SourceServer)
	m.mu.Unlock()
	m.notify(ch)
}

func (m *Machine) changeLocked(cause Cause, source Source) Change {
	return Change{Snapshot: m.snapshotLocked(), Cause: cause, Source: source}
}

func (m *Machine) notify(ch Change) {
	m.mu.Lock()
	listeners := append([]func(Change){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ch)
	}
}
