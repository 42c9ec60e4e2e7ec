package sleeplog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/srg/sleeplog/internal/hrm"
	"github.com/srg/sleeplog/internal/monitor"
	"github.com/srg/sleeplog/internal/store"
	"github.com/srg/sleeplog/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeSource mimics the monitor: Stop emits a disconnect and closes the channel.
type fakeSource struct {
	events   chan monitor.Event
	startErr error
	runErr   error
	address  string
	name     string

	mu      sync.Mutex
	started bool
	stopped bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan monitor.Event, 64)}
}

func (f *fakeSource) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.startErr
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	if f.started {
		f.events <- monitor.Event{Type: monitor.EventConnection, Value: 0, Message: "Disconnected", Time: time.Now()}
	}
	close(f.events)
}

// finish ends the stream as a monitor does when it gives up on its own.
func (f *fakeSource) finish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runErr = err
	f.stopped = true
	close(f.events)
}

func (f *fakeSource) Events() <-chan monitor.Event { return f.events }
func (f *fakeSource) Address() string             { return f.address }
func (f *fakeSource) Name() string                { return f.name }

func (f *fakeSource) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runErr
}

func (f *fakeSource) send(ev monitor.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	f.events <- ev
}

func data(hr int) monitor.Event {
	m := hrm.Measurement{HeartRate: hr, Contact: hrm.ContactDetected, RR: []time.Duration{time.Second}}
	return monitor.Event{Type: monitor.EventData, Value: hr, Measurement: &m}
}

type statusRecorder struct {
	mu  sync.Mutex
	got []Status
}

func (r *statusRecorder) listen(s Status) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *statusRecorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, s := range r.got {
		out[i] = s.Message
	}
	return out
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sleeplog.db"), testutils.NewTestHelper(t).Logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runService(t *testing.T, svc *Service, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	return done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestService_TracksStateAndNotifiesListener(t *testing.T) {
	src := newFakeSource()
	db := openStore(t)
	rec := &statusRecorder{}

	svc := New(src, db, Options{Address: "aa:bb:cc:dd:ee:01", Name: "Polar H10"}, testutils.NewTestHelper(t).Logger)
	svc.SetListener(rec.listen)

	ctx, cancel := context.WithCancel(context.Background())
	done := runService(t, svc, ctx)

	src.send(monitor.Event{Type: monitor.EventConnection, Value: 1, Message: "Connected", Address: "aa:bb:cc:dd:ee:01"})
	src.send(monitor.Event{Type: monitor.EventReady, Value: 1})
	src.send(data(61))
	src.send(data(64))

	waitFor(t, func() bool { return svc.HeartRate() == 64 })
	assert.True(t, svc.Connected())
	assert.True(t, svc.Ready())

	snap := svc.Snapshot()
	assert.Equal(t, 2, snap.Readings)
	assert.Equal(t, WindowStats{Count: 2, Min: 61, Max: 64, Mean: 62.5}, snap.Window)

	sess := svc.Session()
	require.NotNil(t, sess)

	cancel()
	require.NoError(t, <-done)

	assert.False(t, svc.Connected())
	assert.False(t, svc.Ready(), "a disconnect clears ready")
	assert.Equal(t, []string{"Connected = 1", "heart rate = 61", "heart rate = 64", "Connected = 0"}, rec.messages())

	readings, err := db.Readings(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 61, readings[0].HeartRate)
	assert.Equal(t, "detected", readings[0].Contact)
	assert.Equal(t, []int{1000}, readings[0].RR)

	events, err := db.Events(context.Background(), sess.ID)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"connection", "ready", "connection"}, types)

	got, err := db.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.EndedAt, "session is ended when Run returns")
	assert.Equal(t, "Polar H10", got.DeviceName)
}

func TestService_AdoptsDiscoveredDevice(t *testing.T) {
	src := newFakeSource()
	db := openStore(t)

	svc := New(src, db, Options{}, testutils.NewTestHelper(t).Logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := runService(t, svc, ctx)

	src.send(monitor.Event{Type: monitor.EventConnection, Value: 1, Address: "aa:bb:cc:dd:ee:02", Name: "TICKR"})
	waitFor(t, svc.Connected)
	cancel()
	require.NoError(t, <-done)

	got, err := db.GetSession(context.Background(), svc.Session().ID)
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:02", got.DeviceAddress)
	assert.Equal(t, "TICKR", got.DeviceName)
}

func TestService_SourceEndsOnItsOwn(t *testing.T) {
	src := newFakeSource()
	svc := New(src, nil, Options{}, testutils.NewTestHelper(t).Logger)
	rec := &statusRecorder{}
	svc.SetListener(rec.listen)

	done := runService(t, svc, context.Background())

	src.send(monitor.Event{Type: monitor.EventError, Message: "heart rate measurement characteristic not found"})
	src.finish(monitor.ErrNoHeartRateMeasurement)

	err := <-done
	assert.ErrorIs(t, err, monitor.ErrNoHeartRateMeasurement)
	assert.Nil(t, svc.Session())
	assert.Equal(t, []string{"heart rate measurement characteristic not found"}, rec.messages())
}

func TestService_CancelIgnoresStaleSourceError(t *testing.T) {
	src := newFakeSource()
	db := openStore(t)
	svc := New(src, db, Options{Address: "aa:bb:cc:dd:ee:01"}, testutils.NewTestHelper(t).Logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The stream closes with an error left over from an earlier attempt.
	src.finish(errors.New("failed to connect to aa:bb:cc:dd:ee:01: device not found"))

	require.NoError(t, svc.Run(ctx))
	sess, err := db.GetSession(context.Background(), svc.Session().ID)
	require.NoError(t, err)
	assert.NotNil(t, sess.EndedAt)
}

func TestService_StartFailure(t *testing.T) {
	src := newFakeSource()
	src.startErr = errors.New("adapter busy")

	db := openStore(t)
	svc := New(src, db, Options{Address: "aa:bb"}, testutils.NewTestHelper(t).Logger)

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter busy")

	sessions, err := db.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NotNil(t, sessions[0].EndedAt)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) StartSession(ctx context.Context, address, name string, at time.Time) (*store.Session, error) {
	args := m.Called(ctx, address, name, at)
	sess, _ := args.Get(0).(*store.Session)
	return sess, args.Error(1)
}

func (m *mockRecorder) SetSessionDevice(ctx context.Context, id, address, name string) error {
	return m.Called(ctx, id, address, name).Error(0)
}

func (m *mockRecorder) EndSession(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockRecorder) RecordReading(ctx context.Context, r store.Reading) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRecorder) RecordEvent(ctx context.Context, e store.Event) error {
	return m.Called(ctx, e).Error(0)
}

func TestService_PersistenceFailuresDoNotStopLogging(t *testing.T) {
	h := testutils.NewTestHelper(t)
	rec := &mockRecorder{}
	rec.On("StartSession", mock.Anything, "aa:bb", "", mock.Anything).Return(&store.Session{ID: "s1", DeviceAddress: "aa:bb"}, nil)
	rec.On("RecordReading", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	rec.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)
	rec.On("EndSession", mock.Anything, "s1", mock.Anything).Return(nil)

	src := newFakeSource()
	svc := New(src, rec, Options{Address: "aa:bb"}, h.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := runService(t, svc, ctx)

	src.send(data(70))
	src.send(data(71))
	waitFor(t, func() bool { return svc.HeartRate() == 71 })

	cancel()
	require.NoError(t, <-done)

	rec.AssertNumberOfCalls(t, "RecordReading", 2)
	rec.AssertCalled(t, "EndSession", mock.Anything, "s1", mock.Anything)
	assert.Contains(t, h.Output.String(), "Failed to record reading")
}

func TestService_WindowKeepsMostRecent(t *testing.T) {
	svc := New(newFakeSource(), nil, Options{History: 4}, testutils.NewTestHelper(t).Logger)

	for _, hr := range []int{40, 41, 42, 43, 44, 70, 70, 70, 70, 70} {
		svc.pushWindow(hr)
	}

	st := svc.windowStats()
	assert.Equal(t, WindowStats{Count: 4, Min: 70, Max: 70, Mean: 70}, st)

	// Reading the stats must not consume the window.
	assert.Equal(t, st, svc.windowStats())
}

func TestService_WindowHoldsExactlyHistory(t *testing.T) {
	for _, history := range []int{1, 3, 4, 10, 64, 100} {
		t.Run(fmt.Sprintf("history=%d", history), func(t *testing.T) {
			svc := New(newFakeSource(), nil, Options{History: history}, testutils.NewTestHelper(t).Logger)

			for i := 0; i < 500; i++ {
				svc.pushWindow(i)
			}

			st := svc.windowStats()
			assert.Equal(t, history, st.Count)
			assert.Equal(t, 500-history, st.Min, "window MUST keep the most recent readings")
			assert.Equal(t, 499, st.Max)
		})
	}

	t.Run("partially filled", func(t *testing.T) {
		svc := New(newFakeSource(), nil, Options{History: 10}, testutils.NewTestHelper(t).Logger)
		svc.pushWindow(60)
		svc.pushWindow(62)
		assert.Equal(t, WindowStats{Count: 2, Min: 60, Max: 62, Mean: 61}, svc.windowStats())
	})
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, WindowStats{}, summarize(nil))
	assert.Equal(t, WindowStats{Count: 3, Min: 50, Max: 70, Mean: 60}, summarize([]int{60, 50, 70}))
}
