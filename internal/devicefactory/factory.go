// Package devicefactory selects the BLE transport used by the commands.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/sleeplog/internal/device"
	"github.com/srg/sleeplog/internal/device/goble"
)

// Transport is a device.Transport that owns the adapter and must be closed.
type Transport interface {
	device.Transport
	Close() error
}

// TransportFactory creates the platform transport.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(logger *logrus.Logger) Transport {
	return goble.NewTransport(logger)
}
