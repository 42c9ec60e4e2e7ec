package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/sleeplog/internal/report"
	"github.com/srg/sleeplog/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <session>",
	Short: "Export the readings of a session as CSV or JSON",
	Long: `Export the readings of a session. The session may be given by its full ID
or by the short ID printed by 'sleeplog sessions'.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportFormat string
	exportOutput string
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "Output format (csv, json)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := validateFormat(exportFormat, "csv", "json"); err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	return withOutput(cmd.OutOrStdout(), exportOutput, func(w io.Writer) error {
		return exportSession(cmd, st, args[0], exportFormat, w)
	})
}

func exportSession(cmd *cobra.Command, st *store.Store, id, format string, w io.Writer) error {
	ctx := cmd.Context()
	sess, err := st.GetSession(ctx, id)
	if err != nil {
		return err
	}
	readings, err := st.Readings(ctx, sess.ID)
	if err != nil {
		return err
	}

	if format == "csv" {
		return report.WriteCSV(w, readings, nil)
	}

	sum, err := st.Summary(ctx, sess.ID)
	if err != nil {
		return err
	}
	events, err := st.Events(ctx, sess.ID)
	if err != nil {
		return err
	}
	return report.WriteJSON(w, report.Export{Session: *sess, Summary: sum, Readings: readings, Events: events})
}

// withOutput runs fn against path, or against stdout when path is empty.
func withOutput(stdout io.Writer, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
