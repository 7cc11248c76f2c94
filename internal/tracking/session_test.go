package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"resbac/internal/api"
	"resbac/internal/call"
	"resbac/internal/models"
	"resbac/internal/notify"
	"resbac/internal/relay"
	"resbac/internal/sampler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var target = models.Coordinate{Lat: 14.5995, Lng: 120.9842}

type fakeAPI struct {
	mu            sync.Mutex
	report        models.IncidentReport
	reportErr     error
	updates       []models.IncidentStatus
	backups       []models.BackupRequest
	notifications []api.Notification
	ended         []string
	updateErr     error
}

func (f *fakeAPI) GetReport(_ context.Context, id int64) (*models.IncidentReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	r := f.report
	r.ID = id
	return &r, nil
}

func (f *fakeAPI) UpdateStatus(_ context.Context, _ int64, s models.IncidentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, s)
	return f.updateErr
}

func (f *fakeAPI) RequestBackup(_ context.Context, _ int64, req models.BackupRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backups = append(f.backups, req)
	return nil
}

func (f *fakeAPI) CallStatus(context.Context, int64) (call.Poll, error) {
	return call.Poll{Status: models.PollCalling}, nil
}

func (f *fakeAPI) EndCall(_ context.Context, _ int64, endedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, endedBy)
	return nil
}

func (f *fakeAPI) SaveNotification(_ context.Context, n api.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeAPI) setReport(fn func(r *models.IncidentReport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.report)
}

func (f *fakeAPI) statusUpdates() []models.IncidentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.IncidentStatus(nil), f.updates...)
}

type fakeAudio struct {
	mu      sync.Mutex
	joins   int
	leaves  int
	destroy int
}

func (a *fakeAudio) Join(context.Context, models.CallCredentials) (call.AudioSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joins++
	return a, nil
}

func (a *fakeAudio) Leave() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaves++
	return nil
}

func (a *fakeAudio) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroy++
}

func (a *fakeAudio) counts() (int, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joins, a.leaves, a.destroy
}

type notices struct {
	mu  sync.Mutex
	got []notify.Notice
}

func (n *notices) Notify(_ context.Context, nt notify.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, nt)
	return nil
}

func (n *notices) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Kind
	for _, nt := range n.got {
		out = append(out, nt.Kind)
	}
	return out
}

type trail struct {
	mu      sync.Mutex
	samples []models.LocationSample
}

func (t *trail) AppendTrail(_ context.Context, _ string, _ int64, s models.LocationSample) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, s)
	return nil
}

func (t *trail) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Relay.Backoff = relay.Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond}
	cfg.Call = call.Config{PollInterval: 5 * time.Millisecond, Tick: 10 * time.Millisecond}
	cfg.Sampler.MinInterval = 0
	return cfg
}

var (
	resident  = models.UserProfile{ID: 9, FirstName: "Lito", Role: models.UserResident}
	team      = int64(3)
	responder = models.UserProfile{ID: 21, FirstName: "Ana", LastName: "Reyes", Role: models.UserResponder, TeamID: &team}
)

func waitSubscribed(t *testing.T, b *relay.MemoryBroker, ch relay.Channel) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers(ch.Name) == 1 }, 2*time.Second, time.Millisecond)
}

func TestReplayedCallAcceptedConnectsOnce(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusPending, Target: target}}
	audio := &fakeAudio{}
	s, err := Open(context.Background(), 4, resident, testConfig(), Deps{
		API: fapi, Transport: broker, Joiner: audio, Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	defer s.Close()

	ch := relay.ResidentChannel(resident.ID)
	waitSubscribed(t, broker, ch)

	snap, err := s.StartCall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.CallCalling, snap.State)

	uid := int64(77)
	accepted := relay.CallAccepted{
		IncidentID: 4,
		Agora:      models.CallCredentials{AppID: "app", Token: "tok", ChannelName: "incident-4", UID: &uid},
		Timestamp:  "2026-10-14T10:00:00Z",
	}
	require.NoError(t, broker.Emit(ch.Name, ".CallAccepted", accepted))
	require.Eventually(t, func() bool {
		c, _ := s.Call()
		return c.State == models.CallConnected
	}, 2*time.Second, time.Millisecond)

	// Reconnect replays the same event.
	broker.DropAll()
	require.Eventually(t, func() bool { return broker.Connects() == 2 }, 2*time.Second, time.Millisecond)
	waitSubscribed(t, broker, ch)
	require.NoError(t, broker.Emit(ch.Name, ".CallAccepted", accepted))
	require.NoError(t, broker.Emit(ch.Name, ".CallEnded", relay.CallEnded{IncidentID: 4, EndedBy: "dispatcher", Timestamp: "2026-10-14T10:02:00Z"}))

	require.Eventually(t, func() bool {
		c, _ := s.Call()
		return c.State == models.CallEnded
	}, 2*time.Second, time.Millisecond)

	c, ok := s.Call()
	require.True(t, ok)
	assert.Equal(t, models.EndRemote, c.Reason)
	joins, leaves, destroys := audio.counts()
	assert.Equal(t, 1, joins)
	assert.Equal(t, 1, leaves)
	assert.Equal(t, 1, destroys)
}

func TestCallEventsForOtherIncidentIgnored(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusPending}}
	audio := &fakeAudio{}
	s, err := Open(context.Background(), 4, resident, testConfig(), Deps{API: fapi, Transport: broker, Joiner: audio})
	require.NoError(t, err)
	defer s.Close()
	ch := relay.ResidentChannel(resident.ID)
	waitSubscribed(t, broker, ch)

	_, err = s.StartCall(context.Background())
	require.NoError(t, err)
	_, err = s.StartCall(context.Background())
	assert.ErrorIs(t, err, ErrCallActive)

	require.NoError(t, broker.Emit(ch.Name, "CallEnded", relay.CallEnded{IncidentID: 99, Timestamp: "t1"}))
	require.NoError(t, broker.Emit(ch.Name, "CallEnded", relay.CallEnded{IncidentID: 4, Timestamp: "t2"}))
	require.Eventually(t, func() bool {
		c, _ := s.Call()
		return c.State == models.CallEnded
	}, 2*time.Second, time.Millisecond)

	// The dispatcher ended it, so a new call can be placed.
	snap, err := s.StartCall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.CallCalling, snap.State)
	hung, err := s.Hangup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.EndHangup, hung.Reason)
	assert.Equal(t, []string{"resident"}, fapi.ended)
}

func TestResponderArrivalPublishesAndGoesOnScene(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusEnRoute, Target: target}}
	provider := &sampler.ScriptedProvider{Steps: []sampler.Step{
		{Delay: 50 * time.Millisecond, Sample: models.LocationSample{Latitude: target.Lat + 0.0018, Longitude: target.Lng, AccuracyMeters: 50}},
		{Delay: 5 * time.Millisecond, Sample: models.LocationSample{Latitude: target.Lat + 0.0017, Longitude: target.Lng, AccuracyMeters: 60}},
		{Delay: 5 * time.Millisecond, Sample: models.LocationSample{Latitude: target.Lat + 0.0003, Longitude: target.Lng, AccuracyMeters: 70}},
		{Delay: 5 * time.Millisecond, Sample: models.LocationSample{Latitude: target.Lat + 0.0001, Longitude: target.Lng, AccuracyMeters: 10}},
	}}
	tr := &trail{}
	s, err := Open(context.Background(), 4, responder, testConfig(), Deps{
		API: fapi, Transport: broker, Provider: provider, Trail: tr, Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool { return s.Status().Status == models.StatusOnScene && !s.Status().Pending },
		2*time.Second, time.Millisecond)
	assert.Equal(t, []models.IncidentStatus{models.StatusOnScene}, fapi.statusUpdates())
	assert.True(t, s.Info().Arrived)

	require.Eventually(t, func() bool { return tr.len() == 4 }, 2*time.Second, time.Millisecond)
	var moved int
	for _, m := range broker.Published() {
		if m.Channel == relay.IncidentChannel(4).Name && m.Event == relay.EventResponderMoved {
			moved++
		}
	}
	assert.Equal(t, 4, moved)
}

// gatedTransport holds every connect until open is closed.
type gatedTransport struct {
	relay.Transport
	open chan struct{}
}

func (g *gatedTransport) Connect(ctx context.Context) (relay.Conn, error) {
	select {
	case <-g.open:
		return g.Transport.Connect(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestFailedPublishDoesNotCountAsSent(t *testing.T) {
	broker := relay.NewMemoryBroker()
	gate := &gatedTransport{Transport: broker, open: make(chan struct{})}
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusOnScene, Target: target}}
	far := models.LocationSample{Latitude: target.Lat + 0.01, Longitude: target.Lng, AccuracyMeters: 20}
	provider := &sampler.ScriptedProvider{Steps: []sampler.Step{
		{Delay: 20 * time.Millisecond, Sample: far},
		{Delay: 300 * time.Millisecond, Sample: far},
	}}
	tr := &trail{}
	s, err := Open(context.Background(), 4, responder, testConfig(), Deps{
		API: fapi, Transport: gate, Provider: provider, Trail: tr,
	})
	require.NoError(t, err)
	defer s.Close()

	// The first sample arrives while the broker is unreachable.
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, tr.len())
	close(gate.open)

	// The same position within the silence window still goes out.
	require.Eventually(t, func() bool { return tr.len() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, s.Info().Published)
}

func TestReportUpdatedRefreshesStatus(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusOnScene, Target: target}}
	nts := &notices{}
	s, err := Open(context.Background(), 4, responder, testConfig(), Deps{
		API: fapi, Transport: broker, Provider: &sampler.ScriptedProvider{}, Notifier: nts,
	})
	require.NoError(t, err)
	defer s.Close()
	waitSubscribed(t, broker, relay.ReportsChannel)

	fapi.setReport(func(r *models.IncidentReport) { r.Status = models.StatusResolved })
	payload := map[string]any{"report": map[string]any{"id": 4, "status": "resolved"}, "timestamp": "t1"}
	require.NoError(t, broker.Emit(relay.ReportsChannel.Name, ".ReportUpdated", payload))

	require.Eventually(t, func() bool { return s.Status().Status == models.StatusResolved }, 2*time.Second, time.Millisecond)
	assert.Contains(t, nts.kinds(), notify.KindReportUpdated)

	err = s.RequestStatus(context.Background(), models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestReportRefreshFailureMarksStale(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusOnScene, Target: target}}
	s, err := Open(context.Background(), 4, responder, testConfig(), Deps{
		API: fapi, Transport: broker, Provider: &sampler.ScriptedProvider{},
	})
	require.NoError(t, err)
	defer s.Close()
	waitSubscribed(t, broker, relay.ReportsChannel)

	fapi.mu.Lock()
	fapi.reportErr = models.ErrTransientNetwork
	fapi.mu.Unlock()
	require.NoError(t, broker.Emit(relay.ReportsChannel.Name, "ReportUpdated", map[string]any{"report": map[string]any{"id": 4}, "timestamp": "t9"}))

	require.Eventually(t, func() bool { return s.Status().Stale }, 2*time.Second, time.Millisecond)
	assert.Equal(t, models.StatusOnScene, s.Status().Status)
	assert.NotEmpty(t, s.Info().LastError)
}

func TestAssignmentWithoutStatusLeavesStateAlone(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusOnScene, Target: target}}
	nts := &notices{}
	s, err := Open(context.Background(), 4, responder, testConfig(), Deps{
		API: fapi, Transport: broker, Provider: &sampler.ScriptedProvider{}, Notifier: nts,
	})
	require.NoError(t, err)
	defer s.Close()
	ch := relay.ResponderChannel(responder.ID)
	waitSubscribed(t, broker, ch)

	require.NoError(t, broker.Emit(ch.Name, ".IncidentAssigned", map[string]any{
		"incident": map[string]any{"id": 4, "latitude": target.Lat, "longitude": target.Lng},
	}))
	// Dispatch is FIFO per channel, so this lands after the malformed push.
	require.NoError(t, broker.Emit(ch.Name, ".IncidentAssigned", map[string]any{
		"incident": map[string]any{"id": 8, "status": "assigned"},
	}))
	require.Eventually(t, func() bool { return len(nts.kinds()) == 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, models.StatusOnScene, s.Status().Status)
	assert.True(t, s.Info().Arrived)
}

func TestBackupRequestAndResolution(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusOnScene, Target: target}}
	nts := &notices{}
	s, err := Open(context.Background(), 4, responder, testConfig(), Deps{
		API: fapi, Transport: broker, Provider: &sampler.ScriptedProvider{}, Notifier: nts,
	})
	require.NoError(t, err)
	defer s.Close()
	ch := relay.ResponderChannel(responder.ID)
	waitSubscribed(t, broker, ch)

	require.NoError(t, s.RequestBackup(context.Background(), models.BackupRequest{BackupType: models.BackupMedical}))
	assert.Equal(t, models.StatusRequestingBackup, s.Status().Status)
	require.Len(t, fapi.notifications, 1)
	assert.Equal(t, &team, fapi.notifications[0].TeamID)
	assert.Contains(t, fapi.notifications[0].Message, "medic backup for incident #4 (medical)")

	require.NoError(t, broker.Emit(ch.Name, ".BackupResolved", relay.BackupResolved{IncidentID: 4, Timestamp: "t3"}))
	require.Eventually(t, func() bool { return s.Status().Status == models.StatusOnScene }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []notify.Kind{notify.KindBackupRequested, notify.KindBackupResolved}, nts.kinds())
}

func TestFailedSyncNotifies(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusEnRoute, Target: target}, updateErr: models.ErrTransientNetwork}
	nts := &notices{}
	s, err := Open(context.Background(), 4, responder, testConfig(), Deps{
		API: fapi, Transport: broker, Provider: &sampler.ScriptedProvider{}, Notifier: nts,
	})
	require.NoError(t, err)
	defer s.Close()

	err = s.RequestStatus(context.Background(), models.StatusOnScene)
	assert.ErrorIs(t, err, models.ErrSyncFailed)
	assert.Equal(t, models.StatusEnRoute, s.Status().Status)
	assert.Equal(t, []notify.Kind{notify.KindSyncFailed}, nts.kinds())
}

func TestResidentCannotChangeStatus(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusEnRoute}}
	s, err := Open(context.Background(), 4, resident, testConfig(), Deps{API: fapi, Transport: broker})
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.RequestStatus(context.Background(), models.StatusOnScene), ErrNotResponder)
	_, err = s.StartCall(context.Background())
	assert.ErrorIs(t, err, ErrNoAudioJoiner)
}

func TestCloseIsIdempotentAndReleasesEverything(t *testing.T) {
	broker := relay.NewMemoryBroker()
	fapi := &fakeAPI{report: models.IncidentReport{Status: models.StatusEnRoute, Target: target}}
	provider := &sampler.ScriptedProvider{}
	s, err := Open(context.Background(), 4, responder, testConfig(), Deps{
		API: fapi, Transport: broker, Provider: provider, Joiner: &fakeAudio{},
	})
	require.NoError(t, err)
	_, err = s.StartCall(context.Background())
	require.NoError(t, err)

	s.Close()
	s.Close()

	assert.Equal(t, 1, provider.Watches())
	assert.Equal(t, 1, provider.Removals())
	c, _ := s.Call()
	assert.Equal(t, models.CallEnded, c.State)
	assert.Equal(t, models.EndTeardown, c.Reason)
	assert.ErrorIs(t, s.RequestStatus(context.Background(), models.StatusOnScene), ErrClosed)
	_, err = s.StartCall(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenFailsWhenReportUnavailable(t *testing.T) {
	fapi := &fakeAPI{reportErr: &models.APIError{StatusCode: 404, Message: "Report not found"}}
	_, err := Open(context.Background(), 4, resident, testConfig(), Deps{API: fapi, Transport: relay.NewMemoryBroker()})
	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.StatusCode)
}
