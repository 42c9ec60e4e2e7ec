package device_test

import (
	"testing"

	"github.com/srg/sleeplog/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heartRateProfile() *device.Profile {
	return &device.Profile{
		Services: []*device.Service{
			{
				UUID: "180f",
				Characteristics: []*device.Characteristic{
					{UUID: "2a19", Property: device.PropRead | device.PropNotify},
				},
			},
			{
				UUID: "0000180d-0000-1000-8000-00805f9b34fb",
				Characteristics: []*device.Characteristic{
					{UUID: "00002a37-0000-1000-8000-00805f9b34fb", Property: device.PropNotify},
					{UUID: "2a38", Property: device.PropRead},
				},
			},
		},
	}
}

func TestProfile_FindService(t *testing.T) {
	p := heartRateProfile()

	svc, err := p.FindService("180D")
	require.NoError(t, err)
	assert.Equal(t, "Heart Rate", svc.KnownName())

	_, err = p.FindService("1816")
	var nf *device.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "service", nf.Resource)
}

func TestProfile_FindCharacteristic(t *testing.T) {
	p := heartRateProfile()

	t.Run("within service", func(t *testing.T) {
		c, err := p.FindCharacteristic("180d", "2a37")
		require.NoError(t, err)
		assert.Equal(t, "Heart Rate Measurement", c.KnownName())
		assert.True(t, c.Property.CanNotify())
	})

	t.Run("across all services", func(t *testing.T) {
		c, err := p.FindCharacteristic("", "2A19")
		require.NoError(t, err)
		assert.Equal(t, "2a19", c.UUID)
	})

	t.Run("characteristic in wrong service", func(t *testing.T) {
		_, err := p.FindCharacteristic("180f", "2a37")
		assert.EqualError(t, err, `characteristic "2a37" not found in service "180f"`)
	})

	t.Run("missing service", func(t *testing.T) {
		_, err := p.FindCharacteristic("1816", "2a5b")
		assert.EqualError(t, err, `service "1816" not found`)
	})

	t.Run("missing everywhere", func(t *testing.T) {
		_, err := p.FindCharacteristic("", "2a5b")
		assert.EqualError(t, err, `characteristic "2a5b" not found`)
	})
}

func TestProperty(t *testing.T) {
	assert.Equal(t, "read,notify", (device.PropRead | device.PropNotify).String())
	assert.Equal(t, "", device.Property(0).String())
	assert.True(t, device.PropIndicate.CanNotify())
	assert.False(t, (device.PropRead | device.PropWrite).CanNotify())
}

func TestValidateUUID(t *testing.T) {
	got, err := device.ValidateUUID("180D", "0x2a37")
	require.NoError(t, err)
	assert.Equal(t, []string{"180d", "2a37"}, got)

	_, err = device.ValidateUUID()
	assert.Error(t, err)

	_, err = device.ValidateUUID("180d", "")
	assert.EqualError(t, err, "UUID at index 1 cannot be empty")

	_, err = device.ValidateUUID("xyz")
	assert.EqualError(t, err, "invalid UUID format at index 0: xyz")
}

func TestHasService(t *testing.T) {
	assert.True(t, device.HasService([]string{"180f", "0000180d-0000-1000-8000-00805f9b34fb"}, "180D"))
	assert.False(t, device.HasService([]string{"180f"}, "180d"))
	assert.False(t, device.HasService(nil, "180d"))
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "180d", device.ShortenUUID("180d"))
	assert.Equal(t, "6e400001", device.ShortenUUID("6e400001b5a3f393e0a9e50e24dcca9e"))
}
