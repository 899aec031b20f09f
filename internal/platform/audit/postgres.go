// Package audit provides an optional Postgres-backed sink for retired
// track snapshots and Trust-engine rejection counters, per spec.md §3's
// "retired tracks... preserved for audit by collaborators". It is not
// required for correctness: the engines run entirely memory-resident
// without it, per spec.md §6's "Persisted state: None required".
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/asgard/aegis/internal/tracking"
)

// Sink wraps a Postgres connection used for audit records (appended
// retired-track snapshots and upserted rejection counters), grounded on
// internal/platform/db/postgres.go's connection handling.
type Sink struct {
	db *sql.DB
}

// Open connects to dsn and prepares the audit tables. Call Close when
// done.
func Open(dsn string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	return &Sink{db: db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS retired_tracks (
	canonical_id TEXT NOT NULL,
	alias_count  INT  NOT NULL,
	class        TEXT NOT NULL,
	lat          DOUBLE PRECISION NOT NULL,
	lon          DOUBLE PRECISION NOT NULL,
	alt_m        DOUBLE PRECISION NOT NULL,
	last_update_ms BIGINT NOT NULL,
	retired_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rejection_counters (
	kind  TEXT NOT NULL,
	count BIGINT NOT NULL,
	PRIMARY KEY (kind)
);
`

// RetiredTrack is the last-state snapshot persisted when a track leaves
// the active set.
type RetiredTrack struct {
	CanonicalID  string
	AliasCount   int
	Class        string
	LatDeg       float64
	LonDeg       float64
	AltM         float64
	LastUpdateMs int64
}

// RecordRetirement appends a retired track's last-known state.
func (s *Sink) RecordRetirement(ctx context.Context, t RetiredTrack) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retired_tracks (canonical_id, alias_count, class, lat, lon, alt_m, last_update_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.CanonicalID, t.AliasCount, t.Class, t.LatDeg, t.LonDeg, t.AltM, t.LastUpdateMs)
	return err
}

// IncrementRejection bumps the persistent counter for a rejection kind
// (e.g. "invalid_signature", "stale_observation").
func (s *Sink) IncrementRejection(ctx context.Context, kind string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rejection_counters (kind, count) VALUES ($1, 1)
		 ON CONFLICT (kind) DO UPDATE SET count = rejection_counters.count + 1`,
		kind)
	return err
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}

// TrackingSink adapts a Sink to tracking.RejectionSink, so the Tracking
// engine can be constructed with an audit-backed sink without importing
// database/sql itself. Failures are logged, not propagated: audit
// persistence is best-effort per spec.md §4.5's retirement note ("not
// required for correctness").
type TrackingSink struct {
	Sink *Sink
}

// IncrementRejectionCount persists kind's counter bump.
func (t TrackingSink) IncrementRejectionCount(kind tracking.RejectKind) {
	if err := t.Sink.IncrementRejection(context.Background(), kind.String()); err != nil {
		log.Printf("[audit] increment rejection %s: %v", kind, err)
	}
}

// RecordRetirement persists tr's last-known state.
func (t TrackingSink) RecordRetirement(tr *tracking.Track) {
	pos := tr.Position()
	err := t.Sink.RecordRetirement(context.Background(), RetiredTrack{
		CanonicalID:  tr.CanonicalID,
		AliasCount:   tr.AliasCount(),
		Class:        tr.Class,
		LatDeg:       pos.LatDeg,
		LonDeg:       pos.LonDeg,
		AltM:         pos.AltM,
		LastUpdateMs: tr.LastUpdate.UnixMilli(),
	})
	if err != nil {
		log.Printf("[audit] record retirement %s: %v", tr.CanonicalID, err)
	}
}
