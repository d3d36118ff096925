// Package journal keeps an append-only SQLite record of every mutation
// the engine performs. The journal is pure evidence: nothing reads it on
// the hot path, and losing it never loses memory state, which lives in
// the JSON documents.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

// Event kinds recorded by the engine.
const (
	KindFactLearned       = "fact_learned"
	KindFactReinforced    = "fact_reinforced"
	KindFactContradicted  = "fact_contradicted"
	KindObservation       = "observation"
	KindPatternPromoted   = "pattern_promoted"
	KindConversationSaved = "conversation_saved"
	KindMentionProcessed  = "mention_processed"
	KindDecayPass         = "decay_pass"
	KindSweepPass         = "sweep_pass"
	KindConsolidation     = "consolidation"
)

// Event is one journal row.
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal is an append-only event log backed by SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path and applies
// pending migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal %s: %w", path, err)
	}
	return j, nil
}

// OpenMemory opens an in-process journal that vanishes on close.
func OpenMemory() (*Journal, error) {
	return Open(":memory:")
}

func (j *Journal) migrate() error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}

	for version < schemaVersion {
		version++
		switch version {
		case 1:
			if err := applySchemaV1(tx); err != nil {
				return fmt.Errorf("apply schema v%d: %w", version, err)
			}
		default:
			return fmt.Errorf("unknown schema version: %d", version)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func applySchemaV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
		CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
	`)
	return err
}

// Append records one event. Detail is JSON-encoded; nil detail records an
// empty payload.
func (j *Journal) Append(kind string, detail any, at time.Time) error {
	payload := ""
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("encode journal detail for %s: %w", kind, err)
		}
		payload = string(data)
	}
	_, err := j.db.Exec(
		"INSERT INTO events (kind, detail, created_at) VALUES (?, ?, ?)",
		kind, payload, at.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append journal event %s: %w", kind, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	rows, err := j.db.Query(
		"SELECT id, kind, detail, created_at FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var unix int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &unix); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		e.Timestamp = time.Unix(unix, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByKind returns how many events of each kind were recorded.
func (j *Journal) CountByKind() (map[string]int, error) {
	rows, err := j.db.Query("SELECT kind, COUNT(*) FROM events GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count journal events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan journal count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
