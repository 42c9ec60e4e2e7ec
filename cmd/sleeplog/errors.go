package main

import (
	"errors"
	"strings"

	"github.com/srg/sleeplog/internal/device"
	"github.com/srg/sleeplog/internal/monitor"
	"github.com/srg/sleeplog/internal/picker"
	"github.com/srg/sleeplog/internal/store"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the HRM link dropped while reconnecting was disabled.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns known errors into a short hint for the terminal.
// Unknown errors are printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var notFound *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth LE is not supported on this platform"
	case errors.Is(err, picker.ErrNoDevice):
		return "no heart rate monitor found nearby; wear the strap so it starts advertising and try again"
	case errors.Is(err, monitor.ErrNoHeartRateMeasurement):
		return "the selected device is not a heart rate monitor (" + err.Error() + ")"
	case errors.Is(err, ErrConnectionLost):
		return "connection to the heart rate monitor was lost (enable monitor.reconnect to keep logging)"
	case errors.Is(err, device.ErrTimeout):
		return "timed out talking to the heart rate monitor: " + err.Error()
	case errors.Is(err, device.ErrNotConnected):
		return "heart rate monitor is not connected"
	case errors.Is(err, store.ErrSessionNotFound):
		return err.Error() + " (run 'sleeplog sessions' to list them)"
	case errors.As(err, &notFound):
		return notFound.Error()
	}

	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "permission denied") || strings.Contains(strings.ToLower(msg), "operation not permitted") {
		return msg + " (on Linux, run as root or grant CAP_NET_ADMIN/CAP_NET_RAW to the binary)"
	}
	return msg
}
