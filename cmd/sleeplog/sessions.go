package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sleeplog/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions with heart rate statistics",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var sessionsFormat string

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsFormat, "format", "f", "", "Output format (table, json)")
}

// sessionRow pairs a session with its summary for display.
type sessionRow struct {
	Session store.Session  `json:"session"`
	Summary *store.Summary `json:"summary"`
}

func runSessions(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	format := a.cfg.OutputFormat
	if sessionsFormat != "" {
		format = sessionsFormat
	}
	if err := validateFormat(format, "table", "json"); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return err
	}

	rows := make([]sessionRow, 0, len(sessions))
	for _, s := range sessions {
		sum, err := st.Summary(ctx, s.ID)
		if err != nil {
			return err
		}
		rows = append(rows, sessionRow{Session: s, Summary: sum})
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	writeSessionsTable(cmd.OutOrStdout(), rows, time.Local)
	return nil
}

func writeSessionsTable(w io.Writer, rows []sessionRow, loc *time.Location) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No sessions recorded yet. Run 'sleeplog log' to start one.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tDEVICE\tREADINGS\tMIN\tMAX\tMEAN")
	for _, r := range rows {
		s := r.Session
		device := s.DeviceName
		if device == "" {
			device = s.DeviceAddress
		}
		if device == "" {
			device = "-"
		}

		duration := "-"
		mean := "-"
		var readings, minHR, maxHR int
		if r.Summary != nil {
			readings, minHR, maxHR = r.Summary.Readings, r.Summary.Min, r.Summary.Max
			if r.Summary.Duration > 0 {
				duration = r.Summary.Duration.Round(time.Second).String()
			}
			if readings > 0 {
				mean = fmt.Sprintf("%.1f", r.Summary.Mean)
			}
		}
		if s.EndedAt == nil {
			duration += " (open)"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(s.ID), s.StartedAt.In(loc).Format("2006-01-02 15:04"), duration, device,
			readings, minHR, maxHR, mean)
	}
	_ = tw.Flush()
}

// shortID is enough of a session ID to be accepted back as a prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
