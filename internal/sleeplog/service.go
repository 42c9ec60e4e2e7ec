// Package sleeplog is the logger service: it consumes heart rate monitor events,
// keeps the current connection and heart rate state, persists the night's session
// and reports status changes to a listener.
package sleeplog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/sleeplog/internal/monitor"
	"github.com/srg/sleeplog/internal/store"
)

// DefaultHistory is the number of recent readings kept for live statistics.
const DefaultHistory = 64

// Source produces monitor events. *monitor.Monitor implements it.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan monitor.Event
	Address() string
	Name() string
	Err() error
}

// Recorder persists sessions. *store.Store implements it.
type Recorder interface {
	StartSession(ctx context.Context, address, name string, at time.Time) (*store.Session, error)
	SetSessionDevice(ctx context.Context, id, address, name string) error
	EndSession(ctx context.Context, id string, at time.Time) error
	RecordReading(ctx context.Context, r store.Reading) error
	RecordEvent(ctx context.Context, e store.Event) error
}

// Status is what the service reports to its listener.
type Status struct {
	Type    monitor.EventType
	Value   int
	Message string
	Time    time.Time
}

// Listener receives status changes. It is called from the service goroutine and
// must not block.
type Listener func(Status)

type Options struct {
	// Address and Name of the configured HRM, recorded on the session up front.
	Address string
	Name    string
	// History bounds the recent readings window.
	History int
}

// Snapshot is a point-in-time view of the service state.
type Snapshot struct {
	Connected bool
	Ready     bool
	HeartRate int
	Readings  int
	Window    WindowStats
}

// WindowStats summarizes the recent readings window.
type WindowStats struct {
	Count int
	Min   int
	Max   int
	Mean  float64
}

type Service struct {
	source   Source
	recorder Recorder
	logger   *logrus.Logger
	opts     Options

	listenerMu sync.RWMutex
	listener   Listener

	mu        sync.RWMutex
	connected bool
	ready     bool
	heartRate int
	readings  int
	session   *store.Session

	windowMu sync.Mutex
	window   mpmc.RichOverlappedRingBuffer[int]

	now func() time.Time
}

// New creates the service. A nil recorder disables persistence.
func New(source Source, recorder Recorder, opts Options, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	return &Service{
		source:   source,
		recorder: recorder,
		logger:   logger,
		opts:     opts,
		window:   newWindow(opts.History),
		now:      time.Now,
	}
}

func (s *Service) SetListener(l Listener) {
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
}

func (s *Service) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// HeartRate returns the most recent heart rate, 0 before the first reading.
func (s *Service) HeartRate() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heartRate
}

// Session returns the session being recorded, nil without a recorder.
func (s *Service) Session() *store.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	sess := *s.session
	return &sess
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Connected: s.connected,
		Ready:     s.ready,
		HeartRate: s.heartRate,
		Readings:  s.readings,
	}
	s.mu.RUnlock()

	snap.Window = s.windowStats()
	return snap
}

// Run starts the source and processes its events until ctx is cancelled or the
// source stops on its own. The session is ended before Run returns.
func (s *Service) Run(ctx context.Context) error {
	// Writes must survive cancellation so the tail of the night is kept.
	persistCtx := context.WithoutCancel(ctx)

	if err := s.startSession(persistCtx); err != nil {
		return err
	}
	defer s.endSession(persistCtx)

	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	events := s.source.Events()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping logger service")
			s.source.Stop()
			for ev := range events {
				s.handle(persistCtx, ev)
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				s.source.Stop()
				if ctx.Err() != nil {
					return nil
				}
				return s.source.Err()
			}
			s.handle(persistCtx, ev)
		}
	}
}

func (s *Service) startSession(ctx context.Context) error {
	if s.recorder == nil {
		return nil
	}
	sess, err := s.recorder.StartSession(ctx, s.opts.Address, s.opts.Name, s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return nil
}

func (s *Service) endSession(ctx context.Context) {
	sess := s.Session()
	if sess == nil {
		return
	}
	if err := s.recorder.EndSession(ctx, sess.ID, s.now()); err != nil {
		s.logger.WithError(err).Warn("Failed to end session")
	}
}

func (s *Service) handle(ctx context.Context, ev monitor.Event) {
	switch ev.Type {
	case monitor.EventConnection:
		connected := ev.Value != 0
		s.mu.Lock()
		s.connected = connected
		if !connected {
			s.ready = false
		}
		s.mu.Unlock()

		s.logger.WithField("connected", connected).Debug("Connection state changed")
		if connected {
			s.adoptDevice(ctx, ev.Address, ev.Name)
		}
		s.notify(Status{Type: monitor.EventConnection, Value: ev.Value, Message: fmt.Sprintf("Connected = %d", ev.Value), Time: ev.Time})
		s.recordEvent(ctx, ev)

	case monitor.EventReady:
		s.mu.Lock()
		s.ready = ev.Value != 0
		s.mu.Unlock()
		s.recordEvent(ctx, ev)

	case monitor.EventData:
		s.pushWindow(ev.Value)

		s.mu.Lock()
		s.heartRate = ev.Value
		s.readings++
		s.mu.Unlock()

		s.logger.WithField("heart_rate", ev.Value).Debug("Heart rate")
		s.notify(Status{Type: monitor.EventData, Value: ev.Value, Message: fmt.Sprintf("heart rate = %d", ev.Value), Time: ev.Time})
		s.recordReading(ctx, ev)

	case monitor.EventError:
		s.notify(Status{Type: monitor.EventError, Message: ev.Message, Time: ev.Time})
		s.recordEvent(ctx, ev)
	}
}

// adoptDevice fills in the session device when the HRM was found by scanning.
func (s *Service) adoptDevice(ctx context.Context, address, name string) {
	s.mu.Lock()
	sess := s.session
	if sess == nil || address == "" || (sess.DeviceAddress == address && (name == "" || sess.DeviceName == name)) {
		s.mu.Unlock()
		return
	}
	sess.DeviceAddress = address
	if name != "" {
		sess.DeviceName = name
	}
	id, addr, devName := sess.ID, sess.DeviceAddress, sess.DeviceName
	s.mu.Unlock()

	if err := s.recorder.SetSessionDevice(ctx, id, addr, devName); err != nil {
		s.logger.WithError(err).Warn("Failed to record session device")
	}
}

func (s *Service) notify(st Status) {
	s.listenerMu.RLock()
	l := s.listener
	s.listenerMu.RUnlock()
	if l != nil {
		l(st)
	}
}

func (s *Service) recordReading(ctx context.Context, ev monitor.Event) {
	sess := s.Session()
	if sess == nil {
		return
	}

	r := store.Reading{SessionID: sess.ID, Time: ev.Time, HeartRate: ev.Value}
	if m := ev.Measurement; m != nil {
		r.Contact = m.Contact.String()
		r.Energy = m.Energy
		if len(m.RR) > 0 {
			r.RR = m.RRMillis()
		}
	}
	if err := s.recorder.RecordReading(ctx, r); err != nil {
		s.logger.WithError(err).Warn("Failed to record reading")
	}
}

func (s *Service) recordEvent(ctx context.Context, ev monitor.Event) {
	sess := s.Session()
	if sess == nil {
		return
	}

	e := store.Event{SessionID: sess.ID, Time: ev.Time, Type: ev.Type.String(), Value: ev.Value, Message: ev.Message}
	if err := s.recorder.RecordEvent(ctx, e); err != nil {
		s.logger.WithError(err).Warn("Failed to record event")
	}
}
