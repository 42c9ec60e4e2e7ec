package testutils

import "github.com/srg/sleeplog/internal/device"

// ProfileBuilder assembles a device.Profile for tests.
//
//	p := testutils.NewProfileBuilder().
//	    WithService("180d",
//	        testutils.Char("2a37", device.PropNotify, "2902"),
//	    ).
//	    Build()
type ProfileBuilder struct {
	services []*device.Service
}

func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// WithService appends a service with the given characteristics.
func (b *ProfileBuilder) WithService(uuid string, chars ...*device.Characteristic) *ProfileBuilder {
	b.services = append(b.services, &device.Service{UUID: uuid, Characteristics: chars})
	return b
}

func (b *ProfileBuilder) Build() *device.Profile {
	return &device.Profile{Services: b.services}
}

// Char builds a characteristic with optional descriptor UUIDs.
func Char(uuid string, props device.Property, descriptors ...string) *device.Characteristic {
	return &device.Characteristic{UUID: uuid, Property: props, Descriptors: descriptors}
}

// HeartRateProfile is a typical chest strap: GAP, Heart Rate and Battery services.
func HeartRateProfile() *device.Profile {
	return NewProfileBuilder().
		WithService("1800",
			Char("2a00", device.PropRead),
		).
		WithService("180d",
			Char("2a37", device.PropNotify, "2902"),
			Char("2a38", device.PropRead),
		).
		WithService("180f",
			Char("2a19", device.PropRead|device.PropNotify, "2902"),
		).
		Build()
}
