// Package resultstore appends every benchmark result record to a small
// SQLite run ledger, additive to the JSON output spec §6 mandates: it
// lets a user query historical runs (run_id, index, dataset, category,
// averages) without re-parsing JSON files.
//
// The schema/pragma/prepared-statement idiom, including the WAL mode
// that makes concurrent access to the ledger safe, is grounded directly
// in the teacher's own SQLite-backed index store and its modernc.org/sqlite
// driver — kept here rather than swapped, since the teacher's doc comment
// on that store states the same pure-Go/no-CGO rationale that applies to
// this module's CLI binary.
package resultstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Record is one benchmark output row (spec §4.1's output record fields),
// mirrored verbatim so a caller can hand the harness's own result type
// to Save without a conversion layer leaking into internal/harness.
type Record struct {
	RunID        string
	Index        string
	Dataset      string
	Category     string // "MM", "HFI", "DM", "D", or "ANN" for the hnsw baseline
	QueryType    string // "MRQ" or "MkNN"
	NumPivots    int
	Arity        int
	Selectivity  float64
	Radius       float64
	K            int
	CompDists    float64
	TimeMs       float64
	Pages        float64
	NQueries     int
}

// Store owns one SQLite run ledger.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Open creates or reopens the run ledger at path in WAL mode. An empty
// path opens an in-memory ledger (used by tests).
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("resultstore: mkdir %s: %w", dir, err)
			}
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("resultstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("resultstore: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	);

	CREATE TABLE IF NOT EXISTS results (
		run_id       TEXT NOT NULL REFERENCES runs(run_id),
		idx_name     TEXT NOT NULL,
		dataset      TEXT NOT NULL,
		category     TEXT NOT NULL,
		query_type   TEXT NOT NULL,
		num_pivots   INTEGER NOT NULL,
		arity        INTEGER NOT NULL,
		selectivity  REAL NOT NULL,
		radius       REAL NOT NULL,
		k            INTEGER NOT NULL,
		compdists    REAL NOT NULL,
		time_ms      REAL NOT NULL,
		pages        REAL NOT NULL,
		n_queries    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_index_dataset ON results(idx_name, dataset);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("resultstore: init schema: %w", err)
	}
	return nil
}

// Save appends a batch of records inside one transaction. A run_id not
// already present in runs is registered automatically.
func (s *Store) Save(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("resultstore: store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resultstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO runs(run_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("resultstore: prepare run insert: %w", err)
	}
	defer runStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results(
			run_id, idx_name, dataset, category, query_type,
			num_pivots, arity, selectivity, radius, k,
			compdists, time_ms, pages, n_queries
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("resultstore: prepare result insert: %w", err)
	}
	defer insertStmt.Close()

	seenRuns := make(map[string]struct{})
	for _, r := range records {
		if _, ok := seenRuns[r.RunID]; !ok {
			if _, err := runStmt.ExecContext(ctx, r.RunID); err != nil {
				return fmt.Errorf("resultstore: insert run %s: %w", r.RunID, err)
			}
			seenRuns[r.RunID] = struct{}{}
		}
		if _, err := insertStmt.ExecContext(ctx,
			r.RunID, r.Index, r.Dataset, r.Category, r.QueryType,
			r.NumPivots, r.Arity, r.Selectivity, r.Radius, r.K,
			r.CompDists, r.TimeMs, r.Pages, r.NQueries,
		); err != nil {
			return fmt.Errorf("resultstore: insert result (%s,%s): %w", r.Index, r.Dataset, err)
		}
	}

	return tx.Commit()
}

// RunIDs returns every run_id in the ledger, most recent first.
func (s *Store) RunIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("resultstore: query run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("resultstore: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResultsForRun returns every record stored for the given run_id,
// ordered by (index, dataset, query_type) for stable display.
func (s *Store) ResultsForRun(ctx context.Context, runID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, idx_name, dataset, category, query_type,
		       num_pivots, arity, selectivity, radius, k,
		       compdists, time_ms, pages, n_queries
		FROM results
		WHERE run_id = ?
		ORDER BY idx_name, dataset, query_type`, runID)
	if err != nil {
		return nil, fmt.Errorf("resultstore: query results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.RunID, &r.Index, &r.Dataset, &r.Category, &r.QueryType,
			&r.NumPivots, &r.Arity, &r.Selectivity, &r.Radius, &r.K,
			&r.CompDists, &r.TimeMs, &r.Pages, &r.NQueries,
		); err != nil {
			return nil, fmt.Errorf("resultstore: scan result row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close flushes and closes the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
