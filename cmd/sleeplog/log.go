package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/sleeplog/internal/devicefactory"
	"github.com/srg/sleeplog/internal/monitor"
	"github.com/srg/sleeplog/internal/sleeplog"
	"github.com/srg/sleeplog/internal/store"
)

var logCmd = &cobra.Command{
	Use:   "log [address]",
	Short: "Connect to the heart rate monitor and log readings until Ctrl+C",
	Long: `Connect to a heart rate monitor, subscribe to heart rate notifications and
record every reading in the session database.

The device is taken from the argument, then from the config file ('sleeplog
select'); with neither, the first heart rate monitor found by scanning is used.
When the strap drops out the logger reconnects with exponential backoff unless
--no-reconnect is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLog,
}

var (
	logNoReconnect bool
	logNoStore     bool
	logQuiet       bool
)

func init() {
	logCmd.Flags().BoolVar(&logNoReconnect, "no-reconnect", false, "Stop when the connection is lost")
	logCmd.Flags().BoolVar(&logNoStore, "no-store", false, "Do not record the session in the database")
	logCmd.Flags().BoolVarP(&logQuiet, "quiet", "q", false, "Only print connection changes, not every reading")
}

func runLog(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	address, name := a.cfg.Device.Address, a.cfg.Device.Name
	if len(args) == 1 {
		arg, err := normalizeAddress(args[0])
		if err != nil {
			return err
		}
		if arg != address {
			name = ""
		}
		address = arg
	}

	cmd.SilenceUsage = true

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	transport := devicefactory.TransportFactory(a.logger)
	defer transport.Close()

	opts := a.monitorOptions(address)
	if logNoReconnect {
		opts.Reconnect = false
	}
	mon := monitor.New(transport, opts, a.logger)

	var rec sleeplog.Recorder
	if !logNoStore {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		rec = st
	}

	svc := sleeplog.New(mon, rec, sleeplog.Options{Address: address, Name: name, History: a.cfg.History}, a.logger)

	out := cmd.OutOrStdout()
	printer := newStatusPrinter(out, isTerminal(out), logQuiet)
	svc.SetListener(printer.print)

	if address == "" {
		fmt.Fprintln(out, "No device selected, searching for a heart rate monitor... Press Ctrl+C to stop.")
	} else {
		fmt.Fprintf(out, "Logging heart rate from %s. Press Ctrl+C to stop.\n", describeDevice(address, name))
	}

	runErr := svc.Run(ctx)
	writeLogSummary(out, svc.Snapshot(), svc.Session())

	if runErr != nil {
		return runErr
	}
	if ctx.Err() == nil {
		return ErrConnectionLost
	}
	return nil
}

// statusPrinter renders service status lines, colored on a terminal.
type statusPrinter struct {
	out   io.Writer
	quiet bool

	good, warn, bad, data func(a ...interface{}) string
}

func newStatusPrinter(out io.Writer, colors, quiet bool) *statusPrinter {
	mk := func(attr color.Attribute) func(a ...interface{}) string {
		c := color.New(attr)
		if colors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return &statusPrinter{
		out:   out,
		quiet: quiet,
		good:  mk(color.FgHiGreen),
		warn:  mk(color.FgHiYellow),
		bad:   mk(color.FgHiRed),
		data:  mk(color.FgHiCyan),
	}
}

func (p *statusPrinter) print(st sleeplog.Status) {
	ts := st.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var line string
	switch st.Type {
	case monitor.EventConnection:
		if st.Value != 0 {
			line = p.good(st.Message)
		} else {
			line = p.warn(st.Message)
		}
	case monitor.EventData:
		if p.quiet {
			return
		}
		line = p.data(st.Message)
	case monitor.EventError:
		line = p.bad("error: " + st.Message)
	default:
		line = st.Message
	}
	fmt.Fprintf(p.out, "%s  %s\n", ts.Format("15:04:05"), line)
}

func writeLogSummary(w io.Writer, snap sleeplog.Snapshot, sess *store.Session) {
	fmt.Fprintln(w)
	if sess != nil {
		fmt.Fprintf(w, "Session %s\n", sess.ID)
	}
	fmt.Fprintf(w, "Readings: %d\n", snap.Readings)
	if snap.Window.Count > 0 {
		fmt.Fprintf(w, "Last %d readings: min %d, max %d, mean %.1f bpm\n",
			snap.Window.Count, snap.Window.Min, snap.Window.Max, snap.Window.Mean)
	}
}
