package goble

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/sleeplog/internal/device"
)

// bleClient adapts a ble.Client to device.Client.
type bleClient struct {
	client  ble.Client
	address string
	logger  *logrus.Logger

	// disconnected is used when the backend client has no Disconnected() channel
	disconnected chan struct{}
	closeOnce    sync.Once
}

func newClient(client ble.Client, address string, logger *logrus.Logger) *bleClient {
	return &bleClient{
		client:       client,
		address:      address,
		logger:       logger,
		disconnected: make(chan struct{}),
	}
}

func (c *bleClient) Address() string {
	return c.address
}

// DiscoverProfile discovers services, characteristics and descriptors and converts them
// to the backend-neutral profile. UUIDs are normalized.
func (c *bleClient) DiscoverProfile() (*device.Profile, error) {
	p, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}
	return convertProfile(p), nil
}

func (c *bleClient) Subscribe(char *device.Characteristic, indicate bool, handler func(data []byte)) error {
	bc, err := unwrapCharacteristic(char)
	if err != nil {
		return err
	}
	return device.NormalizeError(c.client.Subscribe(bc, indicate, func(data []byte) {
		handler(data)
	}))
}

func (c *bleClient) Unsubscribe(char *device.Characteristic, indicate bool) error {
	bc, err := unwrapCharacteristic(char)
	if err != nil {
		return err
	}
	return device.NormalizeError(c.client.Unsubscribe(bc, indicate))
}

func (c *bleClient) ReadCharacteristic(char *device.Characteristic) ([]byte, error) {
	bc, err := unwrapCharacteristic(char)
	if err != nil {
		return nil, err
	}
	data, err := c.client.ReadCharacteristic(bc)
	return data, device.NormalizeError(err)
}

func (c *bleClient) CancelConnection() error {
	err := c.client.CancelConnection()
	c.closeOnce.Do(func() { close(c.disconnected) })
	return device.NormalizeError(err)
}

// Disconnected returns the backend's disconnect channel when available
func (c *bleClient) Disconnected() <-chan struct{} {
	if dc, ok := c.client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	if c.logger != nil {
		c.logger.Debug("Client does not support Disconnected() channel, relying on CancelConnection")
	}
	return c.disconnected
}

func unwrapCharacteristic(char *device.Characteristic) (*ble.Characteristic, error) {
	if char == nil {
		return nil, fmt.Errorf("characteristic is nil")
	}
	bc, ok := char.Handle.(*ble.Characteristic)
	if !ok || bc == nil {
		return nil, fmt.Errorf("characteristic %s: %w", char.UUID, device.ErrNotInitialized)
	}
	return bc, nil
}

func convertProfile(p *ble.Profile) *device.Profile {
	out := &device.Profile{}
	if p == nil {
		return out
	}

	for _, s := range p.Services {
		svc := &device.Service{UUID: device.NormalizeUUID(s.UUID.String())}
		for _, ch := range s.Characteristics {
			descs := make([]string, 0, len(ch.Descriptors))
			for _, d := range ch.Descriptors {
				descs = append(descs, device.NormalizeUUID(d.UUID.String()))
			}
			svc.Characteristics = append(svc.Characteristics, &device.Characteristic{
				UUID:        device.NormalizeUUID(ch.UUID.String()),
				Property:    device.Property(ch.Property),
				Descriptors: descs,
				Handle:      ch,
			})
		}
		out.Services = append(out.Services, svc)
	}
	return out
}
