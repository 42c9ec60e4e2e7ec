package monitor

import (
	"errors"
	"time"

	"github.com/srg/sleeplog/internal/hrm"
)

// State is the connection state of the monitor.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// EventType identifies what an Event reports.
type EventType int

const (
	// EventData carries a heart rate reading in Value.
	EventData EventType = iota + 1
	// EventConnection reports link state: Value 1 connected, 0 disconnected.
	EventConnection
	// EventReady reports that the measurement characteristic is subscribed.
	EventReady
	// EventError reports a failure; the message holds the cause.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventData:
		return "data"
	case EventConnection:
		return "connection"
	case EventReady:
		return "ready"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by the monitor on its events channel.
type Event struct {
	Type    EventType
	Value   int
	Message string
	Time    time.Time
	Address string
	Name    string
	// Measurement is set for EventData.
	Measurement *hrm.Measurement
}

var (
	ErrAlreadyStarted = errors.New("monitor already started")
	ErrStopped        = errors.New("monitor stopped")
	// ErrNoHeartRateMeasurement is returned when the peer has no Heart Rate Measurement
	// characteristic. Reconnecting to such a device is pointless, so the run ends.
	ErrNoHeartRateMeasurement = errors.New("heart rate measurement characteristic not found")
)
