package device

import (
	"context"
	"strings"

	"github.com/srg/sleeplog/internal/bledb"
)

// Property is the GATT characteristic property bit set.
type Property uint8

const (
	PropBroadcast            Property = 0x01
	PropRead                 Property = 0x02
	PropWriteWithoutResponse Property = 0x04
	PropWrite                Property = 0x08
	PropNotify               Property = 0x10
	PropIndicate             Property = 0x20
	PropSignedWrite          Property = 0x40
	PropExtended             Property = 0x80
)

// CanNotify reports whether the characteristic supports notifications or indications.
func (p Property) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

func (p Property) String() string {
	names := []struct {
		bit  Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
		{PropSignedWrite, "signed-write"},
		{PropExtended, "extended"},
	}
	var parts []string
	for _, n := range names {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Advertisement is a single advertising report seen while scanning.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
	Services() []string
	ManufacturerData() []byte
}

// Characteristic is a discovered GATT characteristic. Handle carries the backend's
// own characteristic object and is passed back to the Client unchanged.
type Characteristic struct {
	UUID        string
	Property    Property
	Descriptors []string
	Handle      any
}

// KnownName returns the SIG name of the characteristic, or "" if unknown.
func (c *Characteristic) KnownName() string {
	return bledb.LookupCharacteristic(c.UUID)
}

// Service is a discovered GATT service.
type Service struct {
	UUID            string
	Characteristics []*Characteristic
}

// KnownName returns the SIG name of the service, or "" if unknown.
func (s *Service) KnownName() string {
	return bledb.LookupService(s.UUID)
}

// Profile is the full set of services discovered on a connected peripheral.
type Profile struct {
	Services []*Service
}

// FindService returns the service with the given UUID.
func (p *Profile) FindService(uuid string) (*Service, error) {
	want := NormalizeUUID(uuid)
	for _, s := range p.Services {
		if NormalizeUUID(s.UUID) == want {
			return s, nil
		}
	}
	return nil, &NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

// FindCharacteristic returns the characteristic with the given UUID inside the given
// service. An empty service UUID searches every service in discovery order.
func (p *Profile) FindCharacteristic(serviceUUID, charUUID string) (*Characteristic, error) {
	want := NormalizeUUID(charUUID)

	services := p.Services
	if serviceUUID != "" {
		svc, err := p.FindService(serviceUUID)
		if err != nil {
			return nil, err
		}
		services = []*Service{svc}
	}

	for _, s := range services {
		for _, c := range s.Characteristics {
			if NormalizeUUID(c.UUID) == want {
				return c, nil
			}
		}
	}

	if serviceUUID == "" {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{charUUID}}
	}
	return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
}

// Client is one live connection to a peripheral.
type Client interface {
	// Address returns the peer address.
	Address() string
	// DiscoverProfile discovers all services and characteristics.
	DiscoverProfile() (*Profile, error)
	// Subscribe enables notifications (or indications) and calls handler with each value.
	Subscribe(char *Characteristic, indicate bool, handler func(data []byte)) error
	Unsubscribe(char *Characteristic, indicate bool) error
	ReadCharacteristic(char *Characteristic) ([]byte, error)
	// CancelConnection disconnects from the peer.
	CancelConnection() error
	// Disconnected is closed when the link is lost or cancelled.
	Disconnected() <-chan struct{}
}

// Transport is a local BLE adapter capable of scanning and dialing.
type Transport interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Dial(ctx context.Context, address string) (Client, error)
}
