package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sleeplog/internal/device"
	"github.com/srg/sleeplog/internal/monitor"
	"github.com/srg/sleeplog/internal/picker"
	"github.com/srg/sleeplog/internal/sleeplog"
	"github.com/srg/sleeplog/internal/store"
	"github.com/srg/sleeplog/internal/testutils"
	"github.com/srg/sleeplog/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"nil", nil, ""},
		{"unsupported", fmt.Errorf("open adapter: %w", device.ErrUnsupported), "not supported on this platform"},
		{"no device", fmt.Errorf("failed to find HRM: %w", picker.ErrNoDevice), "no heart rate monitor found"},
		{"not an hrm", fmt.Errorf("%w: missing", monitor.ErrNoHeartRateMeasurement), "is not a heart rate monitor"},
		{"connection lost", ErrConnectionLost, "monitor.reconnect"},
		{"timeout", fmt.Errorf("failed to connect: %w", device.ErrTimeout), "timed out"},
		{"not connected", device.ErrNotConnected, "is not connected"},
		{"session", fmt.Errorf("%w: abc", store.ErrSessionNotFound), "sleeplog sessions"},
		{"not found", &device.NotFoundError{Resource: "service", UUIDs: []string{"180d"}}, `service "180d" not found`},
		{"permission", errors.New("socket: operation not permitted"), "CAP_NET_ADMIN"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FormatUserError(tt.err)
			if tt.contains == "" {
				assert.Empty(t, msg)
				return
			}
			assert.Contains(t, msg, tt.contains)
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "  ", want: ""},
		{in: "F4:5E:AB:12:34:56", want: "f4:5e:ab:12:34:56"},
		{in: "f4-5e-ab-12-34-56", want: "f4:5e:ab:12:34:56"},
		{in: "0A1B2C3D-4E5F-6071-8293-A4B5C6D7E8F9", want: "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"},
		{in: "00:00:00:00:fe:80:00:00", wantErr: true},
		{in: "polar", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeAddress(tt.in)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid device address")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat("json", "table", "json"))
	err := validateFormat("xml", "table", "json")
	assert.EqualError(t, err, "invalid format 'xml': must be one of table, json")
}

func TestDeviceSelection(t *testing.T) {
	sel := deviceSelection("aa:bb:cc:dd:ee:ff", "Polar H10")
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", sel.Address)
	assert.Equal(t, "Polar H10", sel.Name)

	// Clearing the address drops the name too
	assert.Zero(t, deviceSelection("", "Polar H10"))

	assert.Equal(t, "Polar H10 (aa:bb)", describeDevice("aa:bb", "Polar H10"))
	assert.Equal(t, "aa:bb", describeDevice("aa:bb", ""))
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("log-level", "", "")
		cmd.Flags().Bool("verbose", false, "")
		return cmd
	}

	warnConfig := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.LogLevel = "warn"
		return cfg
	}

	t.Run("config level", func(t *testing.T) {
		logger, err := configureLogger(newCmd(), warnConfig())
		require.NoError(t, err)
		assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

		formatter, ok := logger.Formatter.(*logrus.TextFormatter)
		require.True(t, ok, "logger MUST use the config formatter")
		assert.True(t, formatter.FullTimestamp)
	})

	t.Run("verbose", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("verbose", "true"))
		logger, err := configureLogger(cmd, warnConfig())
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	})

	t.Run("log level wins over verbose", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("verbose", "true"))
		require.NoError(t, cmd.Flags().Set("log-level", "error"))
		logger, err := configureLogger(cmd, warnConfig())
		require.NoError(t, err)
		assert.Equal(t, logrus.ErrorLevel, logger.GetLevel())
	})

	t.Run("invalid", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("log-level", "loud"))
		_, err := configureLogger(cmd, warnConfig())
		assert.ErrorContains(t, err, "invalid log level: loud")
	})
}

func TestWriteCandidatesTable(t *testing.T) {
	found := []picker.Candidate{
		{Name: "Polar H10", Address: "aa:bb:cc:dd:ee:01", RSSI: -61, HeartRate: true, Services: []string{"180d", "180f"}},
		{Address: "aa:bb:cc:dd:ee:02", RSSI: -80, Services: []string{"6e400001b5a3f393e0a9e50e24dcca9e"}},
		{Name: "Tag", Address: "aa:bb:cc:dd:ee:03", RSSI: -90},
	}

	var buf bytes.Buffer
	writeCandidatesTable(&buf, found)

	testutils.NewTextAsserter(t).Assert(buf.String(), `
NAME       ADDRESS            RSSI  HRM  SERVICES
Polar H10  aa:bb:cc:dd:ee:01  -61   yes  Heart Rate, Battery Service
-          aa:bb:cc:dd:ee:02  -80   no   6e400001
Tag        aa:bb:cc:dd:ee:03  -90   no   -
`)

	buf.Reset()
	writeCandidatesTable(&buf, nil)
	assert.Equal(t, "No devices found.\n", buf.String())
}

func TestWriteCandidatesJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCandidatesJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, writeCandidatesJSON(&buf, []picker.Candidate{{Name: "Polar H10", Address: "aa:bb", RSSI: -61, HeartRate: true}}))
	assert.Contains(t, buf.String(), `"address": "aa:bb"`)
	assert.Contains(t, buf.String(), `"heart_rate": true`)
}

func TestFirstHeartRateMonitor(t *testing.T) {
	_, ok := firstHeartRateMonitor([]picker.Candidate{{Address: "a"}})
	assert.False(t, ok)

	c, ok := firstHeartRateMonitor([]picker.Candidate{{Address: "a"}, {Address: "b", HeartRate: true}, {Address: "c", HeartRate: true}})
	require.True(t, ok)
	assert.Equal(t, "b", c.Address)
}

func TestStatusPrinter(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 15, 4, 0, time.Local)

	var buf bytes.Buffer
	p := newStatusPrinter(&buf, false, false)
	p.print(sleeplog.Status{Type: monitor.EventConnection, Value: 1, Message: "Connected = 1", Time: at})
	p.print(sleeplog.Status{Type: monitor.EventData, Value: 62, Message: "heart rate = 62", Time: at})
	p.print(sleeplog.Status{Type: monitor.EventError, Message: "failed to connect", Time: at})
	p.print(sleeplog.Status{Type: monitor.EventConnection, Value: 0, Message: "Connected = 0", Time: at})

	assert.Equal(t, "23:15:04  Connected = 1\n"+
		"23:15:04  heart rate = 62\n"+
		"23:15:04  error: failed to connect\n"+
		"23:15:04  Connected = 0\n", buf.String())

	t.Run("quiet skips readings", func(t *testing.T) {
		var buf bytes.Buffer
		p := newStatusPrinter(&buf, false, true)
		p.print(sleeplog.Status{Type: monitor.EventData, Value: 62, Message: "heart rate = 62", Time: at})
		p.print(sleeplog.Status{Type: monitor.EventConnection, Value: 1, Message: "Connected = 1", Time: at})
		assert.Equal(t, "23:15:04  Connected = 1\n", buf.String())
	})

	t.Run("colors", func(t *testing.T) {
		var buf bytes.Buffer
		p := newStatusPrinter(&buf, true, false)
		p.print(sleeplog.Status{Type: monitor.EventError, Message: "boom", Time: at})
		assert.Contains(t, buf.String(), "\x1b[")
		assert.Contains(t, buf.String(), "error: boom")
	})
}

func TestWriteLogSummary(t *testing.T) {
	var buf bytes.Buffer
	writeLogSummary(&buf, sleeplog.Snapshot{
		Readings: 120,
		Window:   sleeplog.WindowStats{Count: 64, Min: 48, Max: 71, Mean: 55.5},
	}, &store.Session{ID: "0b6f2c1e-session"})

	testutils.NewTextAsserter(t).Assert(buf.String(), `
Session 0b6f2c1e-session
Readings: 120
Last 64 readings: min 48, max 71, mean 55.5 bpm
`)

	buf.Reset()
	writeLogSummary(&buf, sleeplog.Snapshot{}, nil)
	assert.Equal(t, "\nReadings: 0\n", buf.String())
}

func TestWriteSessionsTable(t *testing.T) {
	start := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	end := start.Add(7*time.Hour + 30*time.Minute)

	rows := []sessionRow{
		{
			Session: store.Session{ID: "0b6f2c1e-aaaa-bbbb", DeviceAddress: "aa:bb", DeviceName: "Polar H10", StartedAt: start, EndedAt: &end},
			Summary: &store.Summary{Readings: 3, Min: 50, Max: 60, Mean: 55, Duration: end.Sub(start)},
		},
		{
			Session: store.Session{ID: "1c7a", StartedAt: start},
			Summary: &store.Summary{},
		},
	}

	var buf bytes.Buffer
	writeSessionsTable(&buf, rows, time.UTC)
	testutils.NewTextAsserter(t).Assert(buf.String(), `
ID        STARTED           DURATION  DEVICE     READINGS  MIN  MAX  MEAN
0b6f2c1e  2026-03-01 23:00  7h30m0s   Polar H10  3         50   60   55.0
1c7a      2026-03-01 23:00  - (open)  -          0         0    0    -
`)

	buf.Reset()
	writeSessionsTable(&buf, nil, time.UTC)
	assert.Contains(t, buf.String(), "No sessions recorded yet")
}

func TestProgressPrinter(t *testing.T) {
	t.Run("disabled when not a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProgressPrinter(&buf, "Scanning", "Scanning")
		p.Start()
		p.SetPhase("Connecting")
		p.Stop()
		p.Stop()
		assert.Empty(t, buf.String())
	})

	t.Run("start twice panics", func(t *testing.T) {
		p := NewProgressPrinter(&bytes.Buffer{}, "Scanning", "Scanning")
		p.Start()
		assert.Panics(t, p.Start)
	})

	t.Run("countdown seconds", func(t *testing.T) {
		p := NewCountdownProgressPrinter(&bytes.Buffer{}, "Scanning", "Scanning", 10*time.Second)
		assert.Equal(t, 10, p.seconds(0))
		assert.Equal(t, 8, p.seconds(1600*time.Millisecond))
		assert.Equal(t, 0, p.seconds(11*time.Second))
	})

	t.Run("zero duration counts up", func(t *testing.T) {
		p := NewCountdownProgressPrinter(&bytes.Buffer{}, "Logging", "Connecting", 0)
		assert.Equal(t, 3, p.seconds(3500*time.Millisecond))
	})

	t.Run("print progress", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProgressPrinter(&buf, "Scanning", "Scanning")
		p.printProgress("Scanning", 4)
		p.printProgress("Scanning", 0)
		assert.Equal(t, "\rScanning (Scanning 4s)   \rScanning (Scanning...)   ", buf.String())
	})

	assert.False(t, isTerminal(&bytes.Buffer{}))
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, isTerminal(f))
}
