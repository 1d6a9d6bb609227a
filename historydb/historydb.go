// Package historydb gives an operator a queryable audit trail of
// degradation/recovery events, backed by a local SQLite file; each event is
// inserted as it arrives. Deliberately separate from journal: replay
// determinism ( invariant 1) depends on journal's flat files
// staying the only replay input, so history here is audit-only and never
// read back into the pipeline.
package historydb

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/logx"
	"github.com/aspenmd/ingestd/quality"
)

// Event is one row of the quality_events table.
type Event struct {
	ID         int64   `json:"id"`
	Ts         int64   `json:"ts"`
	Kind       string  `json:"kind"` // "stale" | "mismatch" | "recovered"
	Topic      string  `json:"topic"`
	Symbol     string  `json:"symbol"`
	MarketType string  `json:"marketType"`
	Detail     string  `json:"detail"`
}

// DB persists quality-monitor events to a local SQLite file for operator
// audit queries (GET /v1/history), independent of the replay-critical
// journal.
type DB struct {
	sql *sql.DB
	clk clock.Clock

	mu sync.Mutex
}

// Open creates (or reuses) the SQLite file at path and ensures the schema
// exists.
func Open(path string, clk clock.Clock) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{sql: sqlDB, clk: clk}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS quality_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	kind TEXT NOT NULL,
	topic TEXT NOT NULL,
	symbol TEXT NOT NULL,
	market_type TEXT NOT NULL,
	detail TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quality_events_symbol ON quality_events(symbol, market_type, ts);
`

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) insert(kind, topic, symbol, marketType, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec(
		`INSERT INTO quality_events (ts, kind, topic, symbol, market_type, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		d.clk.NowMs(), kind, topic, symbol, marketType, detail,
	)
	if err != nil {
		logx.Component("historydb").Error().Err(err).Str("kind", kind).Msg("insert failed")
	}
}

// Subscribe wires the DB to every quality-monitor event topic. Call once
// during bootstrap, after quality.Monitor.Start.
func (d *DB) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.TopicDataStale, func(payload any) { d.onStale(payload) })
	bus.Subscribe(eventbus.TopicDataMismatch, func(payload any) { d.onMismatch(payload) })
	bus.Subscribe(eventbus.TopicDataSourceRecovered, func(payload any) { d.onRecovered(payload) })
}

func (d *DB) onStale(payload any) {
	e, ok := payload.(quality.StaleEvent)
	if !ok {
		return
	}
	detail := fmt.Sprintf("lastTs=%d nowTs=%d thresholdMs=%d", e.LastTs, e.NowTs, e.ThresholdMs)
	d.insert("stale", e.Topic, e.Symbol, string(e.MarketType), detail)
}

func (d *DB) onMismatch(payload any) {
	switch e := payload.(type) {
	case quality.MismatchEvent:
		detail := fmt.Sprintf("min=%g max=%g baseline=%g ratio=%g mode=%s", e.Min, e.Max, e.Baseline, e.Ratio, e.Mode)
		d.insert("mismatch", e.Topic, e.Symbol, string(e.MarketType), detail)
	case quality.SuppressedDiagnostic:
		d.insert("mismatch_suppressed", e.Topic, e.Symbol, string(e.MarketType), e.Reason)
	}
}

func (d *DB) onRecovered(payload any) {
	e, ok := payload.(quality.RecoveredEvent)
	if !ok {
		return
	}
	detail := fmt.Sprintf("lastErrorTs=%d nowTs=%d", e.LastErrorTs, e.NowTs)
	d.insert("recovered", e.Topic, e.Symbol, string(e.MarketType), detail)
}

// Query returns the most recent n events for (symbol, marketType), newest
// first.
func (d *DB) Query(symbol, marketType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.sql.Query(
		`SELECT id, ts, kind, topic, symbol, market_type, detail FROM quality_events
		 WHERE symbol = ? AND market_type = ? ORDER BY id DESC LIMIT ?`,
		symbol, marketType, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Ts, &e.Kind, &e.Topic, &e.Symbol, &e.MarketType, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
