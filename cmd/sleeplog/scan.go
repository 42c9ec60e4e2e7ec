package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sleeplog/internal/device"
	"github.com/srg/sleeplog/internal/devicefactory"
	"github.com/srg/sleeplog/internal/picker"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for heart rate monitors",
	Long: `Scan for Bluetooth Low Energy heart rate monitors in the vicinity.

Scanning runs in short windows until the duration elapses or Ctrl+C is pressed.
Only devices advertising the Heart Rate service are listed unless --all is given.
With --save the first heart rate monitor found becomes the default device.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
	scanSave     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every BLE device, not only heart rate monitors")
	scanCmd.Flags().BoolVar(&scanSave, "save", false, "Remember the first heart rate monitor found")
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	format := a.cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if err := validateFormat(format, "table", "json"); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := a.pickerOptions()
	opts.HeartRateOnly = !scanAll
	if cmd.Flags().Changed("duration") {
		opts.Duration = scanDuration
	}

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	transport := devicefactory.TransportFactory(a.logger)
	defer transport.Close()

	out := cmd.OutOrStdout()
	progress := NewCountdownProgressPrinter(out, "Scanning for heart rate monitors", "Scanning", opts.Duration)
	progress.Start()
	found, err := picker.New(transport, opts, a.logger).Scan(ctx)
	progress.Stop()
	if err != nil {
		return err
	}

	if format == "json" {
		if err := writeCandidatesJSON(out, found); err != nil {
			return err
		}
	} else {
		writeCandidatesTable(out, found)
	}

	if !scanSave {
		return nil
	}
	first, ok := firstHeartRateMonitor(found)
	if !ok {
		return picker.ErrNoDevice
	}
	a.cfg.Device.Address = first.Address
	a.cfg.Device.Name = first.Name
	if err := a.cfg.Save(a.configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s (%s) as the default device in %s\n", first.DisplayName(), first.Address, a.configPath)
	return nil
}

func firstHeartRateMonitor(found []picker.Candidate) (picker.Candidate, bool) {
	for _, c := range found {
		if c.HeartRate {
			return c, true
		}
	}
	return picker.Candidate{}, false
}

func writeCandidatesTable(w io.Writer, found []picker.Candidate) {
	if len(found) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tHRM\tSERVICES")
	for _, c := range found {
		name := c.Name
		if name == "" {
			name = "-"
		}
		hr := "no"
		if c.HeartRate {
			hr = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", name, c.Address, c.RSSI, hr, formatServices(c.Services))
	}
	_ = tw.Flush()
}

func formatServices(uuids []string) string {
	if len(uuids) == 0 {
		return "-"
	}
	parts := make([]string, len(uuids))
	for i, u := range uuids {
		if name := (&device.Service{UUID: u}).KnownName(); name != "" {
			parts[i] = name
		} else {
			parts[i] = device.ShortenUUID(u)
		}
	}
	return strings.Join(parts, ", ")
}

func writeCandidatesJSON(w io.Writer, found []picker.Candidate) error {
	if found == nil {
		found = []picker.Candidate{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(found)
}

func validateFormat(format string, valid ...string) error {
	for _, v := range valid {
		if format == v {
			return nil
		}
	}
	return errors.New("invalid format '" + format + "': must be one of " + strings.Join(valid, ", "))
}
