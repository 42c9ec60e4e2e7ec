package testutils

import (
	"context"
	"sync"

	"github.com/srg/sleeplog/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup, handler)
	return args.Error(0)
}

func (m *MockTransport) Dial(ctx context.Context, address string) (device.Client, error) {
	args := m.Called(ctx, address)
	if c, ok := args.Get(0).(device.Client); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockClient is a testify mock of device.Client with a real disconnect channel.
// Notification handlers passed to Subscribe are captured so tests can push values.
type MockClient struct {
	mock.Mock

	mu           sync.Mutex
	handlers     map[string]func([]byte)
	disconnected chan struct{}
	closeOnce    sync.Once
}

func NewMockClient() *MockClient {
	return &MockClient{
		handlers:     make(map[string]func([]byte)),
		disconnected: make(chan struct{}),
	}
}

func (m *MockClient) Address() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) DiscoverProfile() (*device.Profile, error) {
	args := m.Called()
	if p, ok := args.Get(0).(*device.Profile); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Subscribe(char *device.Characteristic, indicate bool, handler func(data []byte)) error {
	args := m.Called(char, indicate, handler)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[device.NormalizeUUID(char.UUID)] = handler
	m.mu.Unlock()
	return nil
}

func (m *MockClient) Unsubscribe(char *device.Characteristic, indicate bool) error {
	args := m.Called(char, indicate)
	return args.Error(0)
}

func (m *MockClient) ReadCharacteristic(char *device.Characteristic) ([]byte, error) {
	args := m.Called(char)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	m.Drop()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Notify delivers data to the handler subscribed for charUUID.
// Reports false if nothing is subscribed.
func (m *MockClient) Notify(charUUID string, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[device.NormalizeUUID(charUUID)]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether a handler is registered for charUUID.
func (m *MockClient) Subscribed(charUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[device.NormalizeUUID(charUUID)]
	return ok
}

// Drop simulates link loss.
func (m *MockClient) Drop() {
	m.closeOnce.Do(func() { close(m.disconnected) })
}

// MockAdvertisement is a plain device.Advertisement value.
type MockAdvertisement struct {
	Name         string
	Address      string
	Signal       int
	IsConnectble bool
	ServiceUUIDs []string
	Manufacturer []byte
}

func (a *MockAdvertisement) LocalName() string        { return a.Name }
func (a *MockAdvertisement) Addr() string             { return a.Address }
func (a *MockAdvertisement) RSSI() int                { return a.Signal }
func (a *MockAdvertisement) Connectable() bool        { return a.IsConnectble }
func (a *MockAdvertisement) Services() []string       { return a.ServiceUUIDs }
func (a *MockAdvertisement) ManufacturerData() []byte { return a.Manufacturer }
