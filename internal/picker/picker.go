// Package picker discovers nearby heart rate monitors.
//
// Scanning runs in short repeated windows, so a device that starts advertising late
// is still picked up and IsScanning reflects the adapter state between windows.
package picker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/sleeplog/internal/device"
	"github.com/srg/sleeplog/internal/groutine"
	"github.com/srg/sleeplog/internal/hrm"
	"github.com/srg/sleeplog/internal/ringchan"
)

// DefaultPeriod is the length of one scan window.
const DefaultPeriod = 2 * time.Second

const eventBufferSize = 100

// ErrNoDevice is returned by FindFirst when no heart rate monitor was seen.
var ErrNoDevice = errors.New("no heart rate monitor found")

// Candidate is a de-duplicated device seen while scanning.
type Candidate struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	HeartRate   bool      `json:"heart_rate"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Seen        int       `json:"seen"`
}

// DisplayName returns the advertised name, or the address when the device is anonymous.
func (c Candidate) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Address
}

// EventType marks if the device was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

func (t EventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

type Event struct {
	Type      EventType
	Candidate Candidate
}

// Options configures scanning behavior
type Options struct {
	// Period is the length of each scan window.
	Period time.Duration
	// Duration bounds the whole scan. Zero scans until the context is cancelled.
	Duration time.Duration
	// HeartRateOnly drops devices that do not advertise the Heart Rate service.
	HeartRateOnly bool
}

// DefaultOptions returns default scanning options
func DefaultOptions() Options {
	return Options{
		Period:        DefaultPeriod,
		Duration:      10 * time.Second,
		HeartRateOnly: true,
	}
}

// Picker handles heart rate monitor discovery
type Picker struct {
	transport device.Transport
	logger    *logrus.Logger
	opts      Options

	candidates *hashmap.Map[string, *Candidate]
	mu         sync.Mutex // guards candidate fields and order
	order      []string

	events   *ringchan.RingChannel[Event]
	scanning atomic.Bool
	now      func() time.Time
}

// New creates a picker scanning through the given transport.
func New(transport device.Transport, opts Options, logger *logrus.Logger) *Picker {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	return &Picker{
		transport:  transport,
		logger:     logger,
		opts:       opts,
		candidates: hashmap.New[string, *Candidate](),
		events:     ringchan.New[Event](eventBufferSize),
		now:        time.Now,
	}
}

// IsScanning reports whether a scan window is currently open.
func (p *Picker) IsScanning() bool {
	return p.scanning.Load()
}

// Events returns a read-only channel of discovery events. Old events are dropped
// when the consumer falls behind.
func (p *Picker) Events() <-chan Event {
	return p.events.C()
}

// Scan runs scan windows until ctx is cancelled or Options.Duration elapses and returns
// the candidates in discovery order. Candidates from earlier calls are kept.
func (p *Picker) Scan(ctx context.Context) ([]Candidate, error) {
	if p.opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Duration)
		defer cancel()
	}

	p.logger.WithFields(logrus.Fields{
		"period":   p.opts.Period,
		"duration": p.opts.Duration,
	}).Info("Starting HRM scan...")

	window := 0
	for ctx.Err() == nil {
		window++
		if err := p.scanWindow(ctx); err != nil {
			return p.Candidates(), fmt.Errorf("scan failed: %w", err)
		}
		p.logger.WithFields(logrus.Fields{
			"window":     window,
			"candidates": p.candidates.Len(),
		}).Debug("Scan window finished")
	}

	p.logger.WithField("device_count", p.candidates.Len()).Info("HRM scan completed")
	return p.Candidates(), nil
}

func (p *Picker) scanWindow(ctx context.Context) error {
	winCtx, cancel := context.WithTimeout(ctx, p.opts.Period)
	defer cancel()

	p.scanning.Store(true)
	defer p.scanning.Store(false)

	err := p.transport.Scan(winCtx, true, p.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return device.NormalizeError(err)
	}

	// Backends may return before the window closes; keep the cadence steady.
	<-winCtx.Done()
	return nil
}

// handleAdvertisement updates an existing candidate or adds a new one
func (p *Picker) handleAdvertisement(adv device.Advertisement) {
	addr := adv.Addr()
	if addr == "" {
		return
	}

	services := device.NormalizeUUIDs(adv.Services())
	isHRM := device.HasService(services, hrm.ServiceUUID)

	c, existing := p.candidates.Get(addr)
	if !existing {
		if p.opts.HeartRateOnly && !isHRM {
			return
		}
		c, existing = p.candidates.GetOrInsert(addr, &Candidate{Address: addr, FirstSeen: p.now()})
	}

	p.mu.Lock()
	if !existing {
		p.order = append(p.order, addr)
	}
	if name := adv.LocalName(); name != "" {
		c.Name = name
	}
	if len(services) > 0 {
		c.Services = services
		c.HeartRate = c.HeartRate || isHRM
	}
	c.RSSI = adv.RSSI()
	c.Connectable = adv.Connectable()
	c.LastSeen = p.now()
	c.Seen++
	snapshot := *c
	p.mu.Unlock()

	event := Event{Type: EventUpdated, Candidate: snapshot}
	if !existing {
		event.Type = EventNew
		p.logger.WithFields(logrus.Fields{
			"device":  snapshot.Name,
			"address": snapshot.Address,
			"rssi":    snapshot.RSSI,
			"hrm":     snapshot.HeartRate,
		}).Info("Discovered new device")
	}
	p.events.Send(event)
}

// Candidates returns a snapshot of discovered devices in discovery order.
func (p *Picker) Candidates() []Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Candidate, 0, len(p.order))
	for _, addr := range p.order {
		if c, ok := p.candidates.Get(addr); ok {
			out = append(out, *c)
		}
	}
	return out
}

// FindFirst scans until the first device advertising the Heart Rate service is seen.
// It is used when no device address has been configured.
func FindFirst(ctx context.Context, transport device.Transport, opts Options, logger *logrus.Logger) (Candidate, error) {
	opts.HeartRateOnly = true
	p := New(transport, opts, logger)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	groutine.Go(scanCtx, "hrm-find-first", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-p.Events():
				if ev.Type == EventNew {
					cancel()
					return
				}
			}
		}
	})

	found, err := p.Scan(scanCtx)
	if len(found) > 0 {
		return found[0], nil
	}
	if err != nil {
		return Candidate{}, err
	}
	if ctx.Err() != nil {
		return Candidate{}, ctx.Err()
	}
	return Candidate{}, ErrNoDevice
}
