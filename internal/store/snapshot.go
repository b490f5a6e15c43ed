package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

// SnapshotStore keeps point-in-time copies of the backend's prediction
// collection in a local SQLite database, so statistics can be computed
// offline and compared across fetches.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore opens a SQLite database at the given path and
// configures WAL mode.
func NewSnapshotStore(dsn string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "snapshot: exec %s", pragma)
		}
	}
	return &SnapshotStore{db: db}, nil
}

const snapshotMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	record_count INTEGER NOT NULL,
	taken_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS snapshot_records (
	snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
	position    INTEGER NOT NULL,
	record      TEXT NOT NULL,
	PRIMARY KEY (snapshot_id, position)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
`

func (s *SnapshotStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, snapshotMigration)
	return eris.Wrap(err, "snapshot: migrate")
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Snapshot describes one stored copy of the collection.
type Snapshot struct {
	ID          string
	Source      string
	RecordCount int
	TakenAt     time.Time
}

// Save stores a record set as a new snapshot and returns its metadata.
func (s *SnapshotStore) Save(ctx context.Context, source string, records []allerscan.PredictionRecord) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	snap := &Snapshot{
		ID:          uuid.NewString(),
		Source:      source,
		RecordCount: len(records),
		TakenAt:     time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, source, record_count, taken_at) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.Source, snap.RecordCount, snap.TakenAt,
	); err != nil {
		return nil, eris.Wrap(err, "snapshot: insert snapshot")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot_records (snapshot_id, position, record) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: prepare")
	}
	defer stmt.Close()

	for i, r := range records {
		blob, err := json.Marshal(r)
		if err != nil {
			return nil, eris.Wrapf(err, "snapshot: marshal record %d", i)
		}
		if _, err := stmt.ExecContext(ctx, snap.ID, i, string(blob)); err != nil {
			return nil, eris.Wrapf(err, "snapshot: insert record %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "snapshot: commit")
	}
	return snap, nil
}

// Load returns the records of the snapshot with the given id; an empty
// id loads the most recent snapshot.
func (s *SnapshotStore) Load(ctx context.Context, id string) ([]allerscan.PredictionRecord, error) {
	if id == "" {
		latest, err := s.Latest(ctx)
		if err != nil {
			return nil, err
		}
		id = latest.ID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM snapshot_records WHERE snapshot_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query records")
	}
	defer rows.Close()

	var records []allerscan.PredictionRecord
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan record")
		}
		var r allerscan.PredictionRecord
		if err := json.Unmarshal([]byte(blob), &r); err != nil {
			return nil, eris.Wrap(err, "snapshot: unmarshal record")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "snapshot: iterate records")
	}
	if records == nil {
		return nil, eris.Errorf("snapshot: %s not found or empty", id)
	}
	return records, nil
}

// Latest returns the metadata of the most recent snapshot.
func (s *SnapshotStore) Latest(ctx context.Context) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, record_count, taken_at FROM snapshots ORDER BY taken_at DESC, id LIMIT 1`)
	var snap Snapshot
	if err := row.Scan(&snap.ID, &snap.Source, &snap.RecordCount, &snap.TakenAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, eris.New("snapshot: no snapshots stored")
		}
		return nil, eris.Wrap(err, "snapshot: query latest")
	}
	return &snap, nil
}

// List returns all stored snapshots, newest first.
func (s *SnapshotStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, record_count, taken_at FROM snapshots ORDER BY taken_at DESC, id`)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query list")
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Source, &snap.RecordCount, &snap.TakenAt); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan snapshot")
		}
		snaps = append(snaps, snap)
	}
	return snaps, eris.Wrap(rows.Err(), "snapshot: iterate snapshots")
}
