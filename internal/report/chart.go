package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/srg/sleeplog/internal/store"
)

// DefaultMaxPoints caps the plotted points; longer nights are averaged into buckets.
const DefaultMaxPoints = 2000

type ChartOptions struct {
	MaxPoints int
	Location  *time.Location
	// AssetsHost overrides where echarts JavaScript is loaded from.
	AssetsHost string
}

// Point is one plotted sample.
type Point struct {
	Time      time.Time
	HeartRate float64
}

// RenderChart writes a standalone HTML page with the heart rate over the session.
func RenderChart(w io.Writer, sess store.Session, readings []store.Reading, o ChartOptions) error {
	if o.MaxPoints <= 0 {
		o.MaxPoints = DefaultMaxPoints
	}
	if o.Location == nil {
		o.Location = time.Local
	}

	points := Downsample(readings, o.MaxPoints)
	xs := make([]string, len(points))
	ys := make([]opts.LineData, len(points))
	for i, p := range points {
		xs[i] = p.Time.In(o.Location).Format("15:04:05")
		ys[i] = opts.LineData{Value: p.HeartRate}
	}

	device := sess.DeviceName
	if device == "" {
		device = sess.DeviceAddress
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:  "Sleep heart rate",
			Width:      "100%",
			Height:     "600px",
			AssetsHost: o.AssetsHost,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Heart rate",
			Subtitle: fmt.Sprintf("%s  %s  readings=%d", device, sess.StartedAt.In(o.Location).Format("2006-01-02 15:04"), len(readings)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "bpm"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(xs).AddSeries("heart rate", ys)

	if err := line.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// Downsample averages readings into at most maxPoints buckets of equal count, keeping
// each bucket's first timestamp.
func Downsample(readings []store.Reading, maxPoints int) []Point {
	if len(readings) == 0 {
		return nil
	}
	if maxPoints <= 0 || len(readings) <= maxPoints {
		out := make([]Point, len(readings))
		for i, r := range readings {
			out[i] = Point{Time: r.Time, HeartRate: float64(r.HeartRate)}
		}
		return out
	}

	size := (len(readings) + maxPoints - 1) / maxPoints
	out := make([]Point, 0, maxPoints)
	for start := 0; start < len(readings); start += size {
		end := start + size
		if end > len(readings) {
			end = len(readings)
		}
		sum := 0
		for _, r := range readings[start:end] {
			sum += r.HeartRate
		}
		out = append(out, Point{
			Time:      readings[start].Time,
			HeartRate: float64(sum) / float64(end-start),
		})
	}
	return out
}
