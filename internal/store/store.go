// Package store persists sleep sessions, heart rate readings and monitor events
// in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned when a session ID does not exist.
var ErrSessionNotFound = errors.New("session not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Session is one logging run against one HRM.
type Session struct {
	ID            string     `json:"id"`
	DeviceAddress string     `json:"device_address"`
	DeviceName    string     `json:"device_name,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Reading is one stored heart rate measurement.
type Reading struct {
	ID        int64     `json:"-"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
	HeartRate int       `json:"heart_rate"`
	Contact   string    `json:"contact,omitempty"`
	Energy    *int      `json:"energy,omitempty"`
	RR        []int     `json:"rr_ms,omitempty"`
}

// Event is a stored connection, ready or error notification.
type Event struct {
	ID        int64     `json:"-"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	Value     int       `json:"value"`
	Message   string    `json:"message,omitempty"`
}

// Summary aggregates the readings of one session.
type Summary struct {
	SessionID string        `json:"session_id"`
	Readings  int           `json:"readings"`
	Min       int           `json:"min"`
	Max       int           `json:"max"`
	Mean      float64       `json:"mean"`
	First     time.Time     `json:"first,omitempty"`
	Last      time.Time     `json:"last,omitempty"`
	Duration  time.Duration `json:"duration"`
}

type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (creating if needed) the database at path and migrates it to the latest schema.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.WithField("path", path).Debug("Database ready")
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StartSession creates a new session and returns it.
func (s *Store) StartSession(ctx context.Context, address, name string, at time.Time) (*Session, error) {
	sess := &Session{
		ID:            uuid.NewString(),
		DeviceAddress: address,
		DeviceName:    name,
		StartedAt:     at.Truncate(time.Millisecond),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, device_address, device_name, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.DeviceAddress, sess.DeviceName, sess.StartedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session": sess.ID,
		"address": address,
	}).Info("Session started")
	return sess, nil
}

// SetSessionDevice records the device once it is known, for sessions started before discovery.
func (s *Store) SetSessionDevice(ctx context.Context, id, address, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET device_address = ?, device_name = ? WHERE id = ?`, address, name, id)
	if err != nil {
		return fmt.Errorf("failed to update session device: %w", err)
	}
	return expectOne(res, id)
}

// EndSession stamps the session end time.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if err := expectOne(res, id); err != nil {
		return err
	}
	s.logger.WithField("session", id).Info("Session ended")
	return nil
}

func (s *Store) RecordReading(ctx context.Context, r Reading) error {
	var energy sql.NullInt64
	if r.Energy != nil {
		energy = sql.NullInt64{Int64: int64(*r.Energy), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (session_id, recorded_at, heart_rate, contact, energy, rr_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Time.UnixMilli(), r.HeartRate, r.Contact, energy, joinInts(r.RR))
	if err != nil {
		return fmt.Errorf("failed to record reading: %w", err)
	}
	return nil
}

func (s *Store) RecordEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, recorded_at, type, value, message) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Time.UnixMilli(), e.Type, e.Value, e.Message)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_address, device_name, started_at, ended_at FROM sessions ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// GetSession looks a session up by ID. A unique ID prefix is accepted as well.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_address, device_name, started_at, ended_at FROM sessions WHERE substr(id, 1, length(?)) = ? ORDER BY id = ? DESC LIMIT 2`,
		id, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	defer rows.Close()

	var found []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	case found[0].ID == id, len(found) == 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("session prefix %q is ambiguous", id)
	}
}

// Readings returns the readings of a session in time order.
func (s *Store) Readings(ctx context.Context, sessionID string) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, recorded_at, heart_rate, contact, energy, rr_ms FROM readings WHERE session_id = ? ORDER BY recorded_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			r      Reading
			at     int64
			energy sql.NullInt64
			rr     string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &at, &r.HeartRate, &r.Contact, &energy, &rr); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Time = time.UnixMilli(at)
		if energy.Valid {
			v := int(energy.Int64)
			r.Energy = &v
		}
		if r.RR, err = splitInts(rr); err != nil {
			return nil, fmt.Errorf("reading %d: bad rr_ms %q: %w", r.ID, rr, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the events of a session in time order.
func (s *Store) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, recorded_at, type, value, message FROM events WHERE session_id = ? ORDER BY recorded_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			at int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &at, &e.Type, &e.Value, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Time = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summary computes reading statistics for a session. Duration spans the session
// start to its end, or to the last reading while the session is still open.
func (s *Store) Summary(ctx context.Context, sessionID string) (*Summary, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var (
		sum         = &Summary{SessionID: sess.ID}
		first, last sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(heart_rate), 0), COALESCE(MAX(heart_rate), 0), COALESCE(AVG(heart_rate), 0),
		        MIN(recorded_at), MAX(recorded_at)
		   FROM readings WHERE session_id = ?`, sess.ID).
		Scan(&sum.Readings, &sum.Min, &sum.Max, &sum.Mean, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize session: %w", err)
	}

	if first.Valid {
		sum.First = time.UnixMilli(first.Int64)
		sum.Last = time.UnixMilli(last.Int64)
	}

	switch {
	case sess.EndedAt != nil:
		sum.Duration = sess.EndedAt.Sub(sess.StartedAt)
	case last.Valid:
		sum.Duration = sum.Last.Sub(sess.StartedAt)
	}
	return sum, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess    Session
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.DeviceAddress, &sess.DeviceName, &started, &ended); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
