package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/srg/sleeplog/internal/report"
)

var chartCmd = &cobra.Command{
	Use:   "chart <session>",
	Short: "Render a session's heart rate as an HTML chart",
	Args:  cobra.ExactArgs(1),
	RunE:  runChart,
}

var (
	chartOutput    string
	chartMaxPoints int
)

func init() {
	chartCmd.Flags().StringVarP(&chartOutput, "output", "o", "", "HTML file to write (default sleeplog-<session>.html)")
	chartCmd.Flags().IntVar(&chartMaxPoints, "max-points", report.DefaultMaxPoints, "Average readings down to at most this many points")
}

func runChart(cmd *cobra.Command, args []string) error {
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

	ctx := cmd.Context()
	sess, err := st.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	readings, err := st.Readings(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		return fmt.Errorf("session %s has no readings to chart", shortID(sess.ID))
	}

	path := chartOutput
	if path == "" {
		path = fmt.Sprintf("sleeplog-%s.html", shortID(sess.ID))
	}
	err = withOutput(cmd.OutOrStdout(), path, func(w io.Writer) error {
		return report.RenderChart(w, *sess, readings, report.ChartOptions{MaxPoints: chartMaxPoints})
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d readings)\n", path, len(readings))
	return nil
}
