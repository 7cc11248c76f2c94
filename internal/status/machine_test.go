package status

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"resbac/internal/mocks"
	"resbac/internal/models"
)

func newMachine(t *testing.T, initial models.IncidentStatus) (*Machine, *mocks.MockAcknowledger) {
	ctrl := gomock.NewController(t)
	ack := mocks.NewMockAcknowledger(ctrl)
	return NewMachine(42, initial, ack, zap.NewNop()), ack
}

func TestFailedAcknowledgementReverts(t *testing.T) {
	m, ack := newMachine(t, models.StatusEnRoute)
	ack.EXPECT().
		UpdateStatus(gomock.Any(), int64(42), models.StatusOnScene).
		Return(models.ErrTransientNetwork)

	var causes []Cause
	m.OnChange(func(c Change) { causes = append(causes, c.Cause) })

	err := m.Request(context.Background(), models.StatusOnScene, SourceManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSyncFailed)
	assert.ErrorIs(t, err, models.ErrTransientNetwork)

	var syncErr *models.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, models.StatusOnScene, syncErr.Attempted)
	assert.Equal(t, models.StatusEnRoute, syncErr.Reverted)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusEnRoute, snap.Status)
	assert.True(t, snap.Stale)
	assert.False(t, snap.Pending)
	assert.ErrorIs(t, snap.LastError, models.ErrSyncFailed)
	assert.Equal(t, []Cause{CauseApplied, CauseReverted}, causes)
}

func TestConfirmedTransition(t *testing.T) {
	m, ack := newMachine(t, models.StatusPending)
	ack.EXPECT().UpdateStatus(gomock.Any(), int64(42), models.StatusEnRoute).Return(nil)

	require.NoError(t, m.Request(context.Background(), models.StatusEnRoute, SourceManual))
	snap := m.Snapshot()
	assert.Equal(t, models.StatusEnRoute, snap.Confirmed)
	assert.False(t, snap.Stale)
}

func TestTerminalRejectsEverything(t *testing.T) {
	for _, terminal := range []models.IncidentStatus{models.StatusResolved, models.StatusCancelled} {
		m, _ := newMachine(t, terminal)
		for _, target := range []models.IncidentStatus{
			models.StatusPending, models.StatusEnRoute, models.StatusOnScene, models.StatusCancelled,
		} {
			err := m.Request(context.Background(), target, SourceManual)
			assert.ErrorIs(t, err, models.ErrInvalidTransition, "%s -> %s", terminal, target)
		}
		err := m.RequestBackup(context.Background(), models.BackupRequest{BackupType: models.BackupMedical})
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
		assert.ErrorIs(t, m.ApplyServer(models.StatusOnScene), models.ErrInvalidTransition)
		assert.Equal(t, terminal, m.Status())
	}
}

func TestInvalidEdge(t *testing.T) {
	m, _ := newMachine(t, models.StatusPending)
	err := m.Request(context.Background(), models.StatusResolved, SourceManual)
	var te *models.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Pending", te.From)
	assert.Equal(t, models.StatusPending, m.Status())

	// Arrival may only move EnRoute to OnScene.
	m2, _ := newMachine(t, models.StatusPending)
	assert.ErrorIs(t, m2.Request(context.Background(), models.StatusOnScene, SourceArrival), models.ErrInvalidTransition)
}

func TestServerPushOverridesPendingChange(t *testing.T) {
	m, ack := newMachine(t, models.StatusEnRoute)

	entered := make(chan struct{})
	release := make(chan struct{})
	ack.EXPECT().
		UpdateStatus(gomock.Any(), int64(42), models.StatusOnScene).
		DoAndReturn(func(context.Context, int64, models.IncidentStatus) error {
			close(entered)
			<-release
			return nil
		})

	done := make(chan error, 1)
	go func() { done <- m.Request(context.Background(), models.StatusOnScene, SourceManual) }()

	<-entered
	assert.True(t, m.Snapshot().Pending)
	require.NoError(t, m.ApplyServer(models.StatusCancelled))
	close(release)

	require.NoError(t, <-done)
	snap := m.Snapshot()
	assert.Equal(t, models.StatusCancelled, snap.Status)
	assert.Equal(t, models.StatusCancelled, snap.Confirmed)
	assert.False(t, snap.Pending)
}

func TestConcurrentSameTargetCollapses(t *testing.T) {
	m, ack := newMachine(t, models.StatusEnRoute)
	ack.EXPECT().UpdateStatus(gomock.Any(), int64(42), models.StatusOnScene).Return(nil).Times(1)

	var wg sync.WaitGroup
	for _, src := range []Source{SourceArrival, SourceManual, SourceManual} {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			assert.NoError(t, m.Request(context.Background(), models.StatusOnScene, src))
		}(src)
	}
	wg.Wait()
	assert.Equal(t, models.StatusOnScene, m.Snapshot().Confirmed)
}

func TestRequestBackupAppliesDefaults(t *testing.T) {
	m, ack := newMachine(t, models.StatusOnScene)
	ack.EXPECT().
		RequestBackup(gomock.Any(), int64(42), models.BackupRequest{BackupType: models.BackupLGU, Reason: models.ReasonEscalation}).
		Return(nil)

	require.NoError(t, m.RequestBackup(context.Background(), models.BackupRequest{BackupType: models.BackupLGU}))
	assert.Equal(t, models.StatusRequestingBackup, m.Status())

	require.NoError(t, m.BackupResolved())
	assert.Equal(t, models.StatusOnScene, m.Status())
}

func TestRequestBackupRejectsUnknownType(t *testing.T) {
	m, _ := newMachine(t, models.StatusOnScene)
	assert.Error(t, m.RequestBackup(context.Background(), models.BackupRequest{BackupType: "fire"}))
	assert.Equal(t, models.StatusOnScene, m.Status())
}

func TestBackupResolvedOutsideBackup(t *testing.T) {
	m, _ := newMachine(t, models.StatusEnRoute)
	assert.ErrorIs(t, m.BackupResolved(), models.ErrInvalidTransition)
}

type fakeAck struct {
	fail bool
}

func (f *fakeAck) UpdateStatus(context.Context, int64, models.IncidentStatus) error {
	if f.fail {
		return models.ErrTransientNetwork
	}
	return nil
}

func (f *fakeAck) RequestBackup(context.Context, int64, models.BackupRequest) error {
	if f.fail {
		return models.ErrTransientNetwork
	}
	return nil
}

func TestTerminalStatesAreAbsorbingProperty(t *testing.T) {
	statuses := []models.IncidentStatus{
		models.StatusPending, models.StatusEnRoute, models.StatusOnScene,
		models.StatusRequestingBackup, models.StatusResolved, models.StatusCancelled,
	}
	rapid.Check(t, func(t *rapid.T) {
		ack := &fakeAck{}
		m := NewMachine(1, models.StatusPending, ack, zap.NewNop())
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			ack.fail = rapid.Bool().Draw(t, "fail")
			before := m.Snapshot()
			op := rapid.IntRange(0, 3).Draw(t, "op")
			target := rapid.SampledFrom(statuses).Draw(t, "target")
			var err error
			switch op {
			case 0:
				err = m.Request(context.Background(), target, SourceManual)
			case 1:
				err = m.Request(context.Background(), target, SourceArrival)
			case 2:
				err = m.RequestBackup(context.Background(), models.BackupRequest{BackupType: models.BackupMedical})
			case 3:
				err = m.ApplyServer(target)
			}
			after := m.Snapshot()
			if before.Confirmed.Terminal() {
				if after.Confirmed != before.Confirmed {
					t.Fatalf("left terminal %s for %s", before.Confirmed, after.Confirmed)
				}
				if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
					t.Fatalf("unexpected error from terminal state: %v", err)
				}
			}
			if errors.Is(err, models.ErrInvalidTransition) && after.Status != before.Status {
				t.Fatalf("invalid transition changed state %s -> %s", before.Status, after.Status)
			}
			if after.Pending {
				t.Fatalf("pending left behind after a synchronous acknowledgement")
			}
		}
	})
}
