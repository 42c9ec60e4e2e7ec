// Package report exports recorded sessions as CSV, JSON or an HTML chart.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/srg/sleeplog/internal/store"
)

// TimeFormat is used for timestamps in CSV exports.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{"time", "heart_rate", "contact", "energy_kj", "rr_ms"}

// Export is the JSON document for one session.
type Export struct {
	Session  store.Session   `json:"session"`
	Summary  *store.Summary  `json:"summary,omitempty"`
	Readings []store.Reading `json:"readings"`
	Events   []store.Event   `json:"events,omitempty"`
}

// WriteCSV writes one row per reading. RR intervals are space separated.
func WriteCSV(w io.Writer, readings []store.Reading, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, r := range readings {
		energy := ""
		if r.Energy != nil {
			energy = strconv.Itoa(*r.Energy)
		}
		rr := make([]string, len(r.RR))
		for i, v := range r.RR {
			rr[i] = strconv.Itoa(v)
		}

		row := []string{
			r.Time.In(loc).Format(TimeFormat),
			strconv.Itoa(r.HeartRate),
			r.Contact,
			energy,
			strings.Join(rr, " "),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the export document, indented.
func WriteJSON(w io.Writer, doc Export) error {
	if doc.Readings == nil {
		doc.Readings = []store.Reading{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write json: %w", err)
	}
	return nil
}
