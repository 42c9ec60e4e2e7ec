package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/sleeplog/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *device.NotFoundError
		expected string
	}{
		{name: "no uuids", err: &device.NotFoundError{Resource: "service"}, expected: "service not found"},
		{name: "single uuid", err: &device.NotFoundError{Resource: "service", UUIDs: []string{"180d"}}, expected: `service "180d" not found`},
		{name: "characteristic in service", err: &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}, expected: `characteristic "2a37" not found in service "180d"`},
		{name: "descriptor in characteristic", err: &device.NotFoundError{Resource: "descriptor", UUIDs: []string{"2a37", "2902"}}, expected: `descriptor "2902" not found in characteristic "2a37"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConnectionError_Is(t *testing.T) {
	err := &device.ConnectionError{State: device.NotConnected, Msg: "link lost"}

	assert.True(t, errors.Is(err, device.ErrNotConnected))
	assert.False(t, errors.Is(err, device.ErrAlreadyConnected))
	assert.Equal(t, "not_connected: link lost", err.Error())
	assert.Equal(t, "already_connected", device.ErrAlreadyConnected.Error())

	var nilErr *device.ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.False(t, nilErr.Is(device.ErrNotConnected))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{name: "not connected", input: errors.New("Device Not Connected"), target: device.ErrNotConnected},
		{name: "disconnected", input: errors.New("peripheral disconnected"), target: device.ErrNotConnected},
		{name: "already connected", input: errors.New("device already connected"), target: device.ErrAlreadyConnected},
		{name: "not initialized", input: errors.New("connection is not initialized"), target: device.ErrNotInitialized},
		{name: "timeout", input: errors.New("dial timed out"), target: device.ErrTimeout},
		{name: "already structured", input: fmt.Errorf("wrapped: %w", device.ErrNotConnected), target: device.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := device.NormalizeError(tt.input)
			assert.ErrorIs(t, got, tt.target)
			assert.Contains(t, got.Error(), tt.input.Error())
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, device.NormalizeError(nil))
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		orig := errors.New("something else")
		assert.Same(t, orig, device.NormalizeError(orig))
	})
}

func TestIsConnectionState(t *testing.T) {
	wrapped := fmt.Errorf("subscribe: %w", &device.ConnectionError{State: device.NotInitialized})

	assert.True(t, device.IsConnectionState(wrapped, device.NotInitialized))
	assert.False(t, device.IsConnectionState(wrapped, device.NotConnected))
	assert.False(t, device.IsConnectionState(errors.New("plain"), device.NotConnected))
}
