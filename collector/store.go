// Package collector is the HTTP service that receives tamper events posted
// by engines, stores them in SQLite and serves them back for review.
package collector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/tamperguard/dbopen"
	"github.com/hazyhaar/tamperguard/guard/report"
)

// Schema creates the event table.
const Schema = `
CREATE TABLE IF NOT EXISTS tamper_events (
    id               TEXT PRIMARY KEY,
    element_id       TEXT NOT NULL DEFAULT '',
    timestamp        INTEGER NOT NULL,
    url              TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL,
    tamper_type      TEXT NOT NULL DEFAULT '',
    detection_method TEXT NOT NULL DEFAULT '',
    original_content TEXT NOT NULL DEFAULT '',
    tamper_content   TEXT NOT NULL DEFAULT '',
    checksum         TEXT NOT NULL DEFAULT '',
    attempts         INTEGER NOT NULL DEFAULT 0,
    confidence       INTEGER NOT NULL DEFAULT 0,
    additional_info  TEXT NOT NULL DEFAULT '{}',
    remote_addr      TEXT NOT NULL DEFAULT '',
    received_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tamper_events_received ON tamper_events(received_at DESC);
CREATE INDEX IF NOT EXISTS idx_tamper_events_type ON tamper_events(event_type, received_at DESC);
`

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("collector: event not found")

// Stored is an event as kept by the collector.
type Stored struct {
	report.TamperEvent
	RemoteAddr string `json:"remoteAddr,omitempty"`
	ReceivedAt int64  `json:"receivedAt"`
	Preview    string `json:"preview,omitempty"`
}

// Filter narrows List.
type Filter struct {
	Limit      int
	Offset     int
	EventType  string
	TamperType string
}

// Store persists events.
type Store struct {
	db *sql.DB
}

// NewStore applies the schema to db.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("collector: DB is required")
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("collector schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert stores ev. A second insert with the same id is ignored, so a
// replayed report is stored once.
func (s *Store) Insert(ctx context.Context, ev Stored) error {
	info := []byte("{}")
	if len(ev.AdditionalInfo) > 0 {
		var err error
		if info, err = json.Marshal(ev.AdditionalInfo); err != nil {
			return fmt.Errorf("collector: encode additional info: %w", err)
		}
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO tamper_events (id, element_id, timestamp, url, event_type, tamper_type,
		   detection_method, original_content, tamper_content, checksum, attempts, confidence,
		   additional_info, remote_addr, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.ElementID, ev.Timestamp, ev.URL, ev.EventType, string(ev.TamperType),
		ev.DetectionMethod, ev.OriginalContent, ev.TamperContent, ev.Checksum, ev.Attempts, ev.Confidence,
		string(info), ev.RemoteAddr, ev.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("collector: insert: %w", err)
	}
	return nil
}

const selectCols = `SELECT id, element_id, timestamp, url, event_type, tamper_type, detection_method,
	original_content, tamper_content, checksum, attempts, confidence, additional_info, remote_addr, received_at
	FROM tamper_events`

// List returns events newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Stored, error) {
	var (
		where []string
		args  []any
	)
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.TamperType != "" {
		where = append(where, "tamper_type = ?")
		args = append(args, f.TamperType)
	}
	q := selectCols
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY received_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("collector: list: %w", err)
	}
	defer rows.Close()

	events := []Stored{}
	for rows.Next() {
		ev, err := scan(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Get returns one event.
func (s *Store) Get(ctx context.Context, id string) (Stored, error) {
	row := s.db.QueryRowContext(ctx, selectCols+" WHERE id = ?", id)
	ev, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Stored{}, ErrNotFound
	}
	return ev, err
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tamper_events").Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (Stored, error) {
	var (
		ev   Stored
		tt   string
		info string
	)
	err := sc.Scan(&ev.ID, &ev.ElementID, &ev.Timestamp, &ev.URL, &ev.EventType, &tt, &ev.DetectionMethod,
		&ev.OriginalContent, &ev.TamperContent, &ev.Checksum, &ev.Attempts, &ev.Confidence, &info,
		&ev.RemoteAddr, &ev.ReceivedAt)
	if err != nil {
		return Stored{}, err
	}
	ev.TamperType = report.TamperType(tt)
	if info != "" && info != "{}" {
		if err := json.Unmarshal([]byte(info), &ev.AdditionalInfo); err != nil {
			return Stored{}, fmt.Errorf("collector: decode additional info: %w", err)
		}
	}
	return ev, nil
}
