// Package monitor drives the connection lifecycle of a BLE heart rate monitor:
// connect, discover, subscribe to measurements, and reconnect after link loss.
// Everything the monitor observes is reported as an Event.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sleeplog/internal/device"
	"github.com/srg/sleeplog/internal/groutine"
	"github.com/srg/sleeplog/internal/hrm"
	"github.com/srg/sleeplog/internal/picker"
	"github.com/srg/sleeplog/internal/ringchan"
)

// Options configures the monitor
type Options struct {
	// Address of the HRM. Empty means connect to the first HRM found by scanning.
	Address           string
	ConnectTimeout    time.Duration
	ScanTimeout       time.Duration
	ScanPeriod        time.Duration
	Reconnect         bool
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	EventBuffer       int
}

// DefaultOptions returns the options used by the CLI when nothing is configured.
func DefaultOptions(address string) Options {
	return Options{
		Address:           address,
		ConnectTimeout:    30 * time.Second,
		ScanTimeout:       30 * time.Second,
		ScanPeriod:        picker.DefaultPeriod,
		Reconnect:         true,
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: time.Minute,
		EventBuffer:       256,
	}
}

// Monitor connects to one HRM and streams its events.
type Monitor struct {
	transport device.Transport
	opts      Options
	logger    *logrus.Logger

	events *ringchan.RingChannel[Event]
	emitMu sync.Mutex
	closed bool

	mu      sync.RWMutex
	state   State
	address string
	name    string
	lastErr error

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	now func() time.Time
}

// New creates a monitor. Missing durations fall back to DefaultOptions.
func New(transport device.Transport, opts Options, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}

	def := DefaultOptions(opts.Address)
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ScanPeriod <= 0 {
		opts.ScanPeriod = def.ScanPeriod
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = opts.ReconnectDelay
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}

	return &Monitor{
		transport: transport,
		opts:      opts,
		logger:    logger,
		events:    ringchan.New[Event](opts.EventBuffer),
		address:   opts.Address,
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Events returns the event stream. It is closed when the monitor stops.
func (m *Monitor) Events() <-chan Event {
	return m.events.C()
}

// Done is closed once the run loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Address returns the HRM address, which is only known after discovery when
// no address was configured.
func (m *Monitor) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.address
}

func (m *Monitor) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Err returns the error that ended the last connection attempt, if any.
func (m *Monitor) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Start launches the run loop and returns immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	groutine.Go(runCtx, "hrm-monitor", m.run)
	return nil
}

// Stop unsubscribes, disconnects, waits for the run loop and closes the event channel.
// Calling it more than once is safe.
func (m *Monitor) Stop() {
	m.lifeMu.Lock()
	if m.stopped {
		m.lifeMu.Unlock()
		<-m.done
		return
	}
	m.stopped = true
	started, cancel := m.started, m.cancel
	m.lifeMu.Unlock()

	if !started {
		m.closeEvents()
		close(m.done)
		return
	}

	m.logger.Debug("Stopping HRM monitor")
	cancel()
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	defer m.closeEvents()

	delay := m.opts.ReconnectDelay
	for {
		ready, err := m.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.setErr(err)
		}
		if errors.Is(err, ErrNoHeartRateMeasurement) || !m.opts.Reconnect {
			m.logger.WithError(err).Info("HRM monitor finished")
			return
		}

		if ready {
			delay = m.opts.ReconnectDelay
		}
		m.logger.WithFields(logrus.Fields{
			"address": m.Address(),
			"delay":   delay,
		}).Info("Reconnecting to HRM...")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		delay *= 2
		if delay > m.opts.MaxReconnectDelay {
			delay = m.opts.MaxReconnectDelay
		}
	}
}

// connectOnce runs one connection from dial to disconnect. It reports whether the
// link reached the ready state.
func (m *Monitor) connectOnce(ctx context.Context) (bool, error) {
	addr, err := m.resolveAddress(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		m.emitError(err)
		return false, err
	}

	m.setState(StateConnecting)
	m.logger.WithField("address", addr).Info("Connecting to HRM...")

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	client, err := m.transport.Dial(dialCtx, addr)
	cancel()
	if err != nil {
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		err = fmt.Errorf("failed to connect to %s: %w", addr, device.NormalizeError(err))
		m.emitError(err)
		return false, err
	}

	m.setState(StateConnected)
	m.logger.Info("Connected to HRM, discovering services...")
	m.emit(Event{Type: EventConnection, Value: 1, Message: "Connected"})

	char, err := m.subscribe(client)
	if err != nil {
		m.emitError(err)
		m.teardown(client, nil, false)
		return false, err
	}

	m.setState(StateReady)
	m.setErr(nil)
	m.logger.Info("HRM ready, receiving heart rate notifications")
	m.emit(Event{Type: EventReady, Value: 1, Message: "Heart rate notifications enabled"})

	select {
	case <-ctx.Done():
		m.teardown(client, char, false)
	case <-client.Disconnected():
		m.logger.WithField("address", addr).Warn("HRM link lost")
		m.teardown(client, nil, true)
	}
	return true, nil
}

func (m *Monitor) resolveAddress(ctx context.Context) (string, error) {
	if addr := m.Address(); addr != "" {
		return addr, nil
	}

	m.logger.Info("No HRM configured, looking for one...")
	c, err := picker.FindFirst(ctx, m.transport, picker.Options{
		Period:   m.opts.ScanPeriod,
		Duration: m.opts.ScanTimeout,
	}, m.logger)
	if err != nil {
		return "", fmt.Errorf("failed to find HRM: %w", err)
	}

	m.mu.Lock()
	m.address, m.name = c.Address, c.Name
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"address": c.Address,
		"device":  c.Name,
	}).Info("Found HRM")
	return c.Address, nil
}

// subscribe discovers the profile and enables measurement notifications.
func (m *Monitor) subscribe(client device.Client) (*device.Characteristic, error) {
	profile, err := client.DiscoverProfile()
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}
	m.logProfile(profile)

	char, err := profile.FindCharacteristic(hrm.ServiceUUID, hrm.MeasurementUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHeartRateMeasurement, err)
	}
	if !char.Property.CanNotify() {
		return nil, fmt.Errorf("%w: characteristic %s has properties %q", ErrNoHeartRateMeasurement, char.UUID, char.Property)
	}

	m.readSensorLocation(client, profile)

	indicate := char.Property&device.PropNotify == 0
	if err := client.Subscribe(char, indicate, m.handleNotification); err != nil {
		return nil, fmt.Errorf("failed to subscribe to heart rate measurement: %w", device.NormalizeError(err))
	}
	return char, nil
}

func (m *Monitor) readSensorLocation(client device.Client, profile *device.Profile) {
	char, err := profile.FindCharacteristic(hrm.ServiceUUID, hrm.BodySensorLocationUUID)
	if err != nil || char.Property&device.PropRead == 0 {
		return
	}
	data, err := client.ReadCharacteristic(char)
	if err != nil {
		m.logger.WithError(err).Debug("Failed to read body sensor location")
		return
	}
	loc, err := hrm.SensorLocation(data)
	if err != nil {
		return
	}
	m.logger.WithField("location", loc).Info("Body sensor location")
}

// teardown releases the link. When the link is already lost there is nothing to cancel.
func (m *Monitor) teardown(client device.Client, char *device.Characteristic, lost bool) {
	if char != nil {
		if err := client.Unsubscribe(char, char.Property&device.PropNotify == 0); err != nil {
			m.logger.WithError(err).Warn("Error unsubscribing from heart rate measurement")
		}
	}
	if !lost {
		if err := client.CancelConnection(); err != nil {
			m.logger.WithError(err).Warn("Error disconnecting from HRM")
		}
	}

	m.setState(StateDisconnected)
	m.logger.Info("Disconnected from HRM")
	m.emit(Event{Type: EventConnection, Value: 0, Message: "Disconnected"})
}

func (m *Monitor) handleNotification(data []byte) {
	meas, err := hrm.Decode(data)
	if err != nil {
		m.logger.WithError(err).WithField("payload", fmt.Sprintf("%x", data)).Warn("Dropping malformed heart rate measurement")
		return
	}

	m.logger.WithField("measurement", meas.String()).Debug("Received heart rate")
	m.emit(Event{
		Type:        EventData,
		Value:       meas.HeartRate,
		Message:     fmt.Sprintf("Received heart rate: %d", meas.HeartRate),
		Measurement: &meas,
	})
}

func (m *Monitor) emit(ev Event) {
	ev.Time = m.now()
	m.mu.RLock()
	ev.Address, ev.Name = m.address, m.name
	m.mu.RUnlock()

	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if m.closed {
		return
	}
	if m.events.Send(ev) {
		m.logger.WithField("type", ev.Type).Debug("Event buffer full, dropped oldest event")
	}
}

func (m *Monitor) emitError(err error) {
	m.logger.WithError(err).Error("HRM error")
	m.emit(Event{Type: EventError, Message: err.Error()})
}

func (m *Monitor) closeEvents() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.events.Close()

	stats := m.events.Metrics()
	entry := m.logger.WithFields(logrus.Fields{
		"written": stats.Written,
		"dropped": stats.Overwritten,
	})
	if stats.Overwritten > 0 {
		entry.Warn("HRM events were dropped before they were read")
		return
	}
	entry.Debug("HRM event stream closed")
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		m.logger.WithFields(logrus.Fields{
			"from": prev,
			"to":   s,
		}).Debug("HRM state changed")
	}
}

func (m *Monitor) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
