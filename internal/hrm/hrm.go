// Package hrm decodes the Bluetooth Heart Rate Service (0x180d) measurement
// characteristic.
package hrm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ServiceUUID              = "180d"
	MeasurementUUID          = "2a37"
	BodySensorLocationUUID   = "2a38"
	ClientCharacteristicUUID = "2902"
)

// Flags field bits, Heart Rate Service 1.0 section 3.1.1.1.
const (
	flagFormatUint16    = 0x01
	flagContactDetected = 0x02
	flagContactSupport  = 0x04
	flagEnergyExpended  = 0x08
	flagRRInterval      = 0x10
)

var (
	ErrEmptyPayload = errors.New("empty heart rate measurement")
	ErrTruncated    = errors.New("truncated heart rate measurement")
)

// Contact is the sensor contact status reported by the strap.
type Contact int

const (
	ContactUnsupported Contact = iota
	ContactNotDetected
	ContactDetected
)

func (c Contact) String() string {
	switch c {
	case ContactNotDetected:
		return "not-detected"
	case ContactDetected:
		return "detected"
	default:
		return "unsupported"
	}
}

// Measurement is one decoded heart rate notification.
type Measurement struct {
	HeartRate int
	Format16  bool
	Contact   Contact
	Energy    *int // kJ, nil when not present
	RR        []time.Duration
}

// Decode parses a Heart Rate Measurement value. The value format is taken from the
// flags byte of the payload.
func Decode(data []byte) (Measurement, error) {
	var m Measurement
	if len(data) == 0 {
		return m, ErrEmptyPayload
	}

	flags := data[0]
	offset := 1

	m.Format16 = flags&flagFormatUint16 != 0
	if m.Format16 {
		if len(data) < offset+2 {
			return m, fmt.Errorf("%w: need 2 bytes of heart rate, have %d", ErrTruncated, len(data)-offset)
		}
		m.HeartRate = int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
	} else {
		if len(data) < offset+1 {
			return m, fmt.Errorf("%w: missing heart rate value", ErrTruncated)
		}
		m.HeartRate = int(data[offset])
		offset++
	}

	switch {
	case flags&flagContactSupport == 0:
		m.Contact = ContactUnsupported
	case flags&flagContactDetected != 0:
		m.Contact = ContactDetected
	default:
		m.Contact = ContactNotDetected
	}

	if flags&flagEnergyExpended != 0 {
		if len(data) < offset+2 {
			return m, fmt.Errorf("%w: energy expended field", ErrTruncated)
		}
		e := int(binary.LittleEndian.Uint16(data[offset:]))
		m.Energy = &e
		offset += 2
	}

	if flags&flagRRInterval != 0 {
		rr := data[offset:]
		m.RR = make([]time.Duration, 0, len(rr)/2)
		for i := 0; i+1 < len(rr); i += 2 {
			v := binary.LittleEndian.Uint16(rr[i:])
			m.RR = append(m.RR, time.Duration(v)*time.Second/1024)
		}
	}

	return m, nil
}

// Encode produces the wire form of m. Used by simulators and tests.
func Encode(m Measurement) []byte {
	var flags byte
	buf := []byte{0}

	if m.Format16 || m.HeartRate > 0xff {
		flags |= flagFormatUint16
		buf = binary.LittleEndian.AppendUint16(buf, uint16(m.HeartRate))
	} else {
		buf = append(buf, byte(m.HeartRate))
	}

	switch m.Contact {
	case ContactDetected:
		flags |= flagContactSupport | flagContactDetected
	case ContactNotDetected:
		flags |= flagContactSupport
	}

	if m.Energy != nil {
		flags |= flagEnergyExpended
		buf = binary.LittleEndian.AppendUint16(buf, uint16(*m.Energy))
	}

	if len(m.RR) > 0 {
		flags |= flagRRInterval
		for _, d := range m.RR {
			buf = binary.LittleEndian.AppendUint16(buf, uint16((d*1024+time.Second/2)/time.Second))
		}
	}

	buf[0] = flags
	return buf
}

// RRMillis returns the RR intervals rounded to milliseconds.
func (m Measurement) RRMillis() []int {
	out := make([]int, len(m.RR))
	for i, d := range m.RR {
		out[i] = int(d.Round(time.Millisecond) / time.Millisecond)
	}
	return out
}

func (m Measurement) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d bpm", m.HeartRate)
	if m.Contact != ContactUnsupported {
		fmt.Fprintf(&b, " contact=%s", m.Contact)
	}
	if m.Energy != nil {
		fmt.Fprintf(&b, " energy=%dkJ", *m.Energy)
	}
	if len(m.RR) > 0 {
		fmt.Fprintf(&b, " rr=%v", m.RRMillis())
	}
	return b.String()
}

var sensorLocations = []string{"other", "chest", "wrist", "finger", "hand", "ear-lobe", "foot"}

// SensorLocation decodes the Body Sensor Location characteristic (0x2a38).
func SensorLocation(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	if int(data[0]) >= len(sensorLocations) {
		return fmt.Sprintf("reserved(%d)", data[0]), nil
	}
	return sensorLocations[data[0]], nil
}
