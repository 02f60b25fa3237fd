// Package results persists window results in a DuckDB ledger so runs
// can be summarized and their failures inspected after the fact.
package results

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/winmsa/winmsa/internal/model"
)

const defaultBatchSize = 64

// Ledger records window results, batching inserts into transactions.
type Ledger struct {
	db   *sql.DB
	stmt *sql.Stmt

	mu      sync.Mutex
	batch   []entry
	written int64
	closed  bool
}

type entry struct {
	runID string
	res   model.WindowResult
}

// Open opens (or creates) a ledger database. An empty path opens an
// in-memory database.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS window_results (
			run_id VARCHAR NOT NULL,
			job_id VARCHAR NOT NULL,
			reference VARCHAR NOT NULL,
			win_start BIGINT NOT NULL,
			win_end BIGINT NOT NULL,
			written INTEGER NOT NULL,
			merged INTEGER NOT NULL,
			masked_bases INTEGER NOT NULL,
			dropped_inserted_bases INTEGER NOT NULL,
			insert_conflicts INTEGER NOT NULL,
			resumed BOOLEAN NOT NULL,
			elapsed_ms BIGINT NOT NULL,
			error VARCHAR NOT NULL,
			recorded_at TIMESTAMP DEFAULT current_timestamp
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO window_results (
			run_id, job_id, reference, win_start, win_end,
			written, merged, masked_bases, dropped_inserted_bases,
			insert_conflicts, resumed, elapsed_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}

	return &Ledger{
		db:    db,
		stmt:  stmt,
		batch: make([]entry, 0, defaultBatchSize),
	}, nil
}

// Record buffers one window result for the run.
func (l *Ledger) Record(runID string, res model.WindowResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.batch = append(l.batch, entry{runID: runID, res: res})
	if len(l.batch) >= defaultBatchSize {
		return l.flushBatch()
	}
	return nil
}

// flushBatch writes the current batch inside one transaction. Caller
// holds the mutex.
func (l *Ledger) flushBatch() error {
	if len(l.batch) == 0 {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt := tx.Stmt(l.stmt)
	for _, e := range l.batch {
		_, err := stmt.Exec(
			e.runID,
			e.res.JobID,
			e.res.Reference,
			e.res.Start,
			e.res.End,
			e.res.Written,
			e.res.Merged,
			e.res.MaskedBases,
			e.res.DroppedInsertedBases,
			e.res.InsertConflicts,
			e.res.Resumed,
			e.res.ElapsedMillis,
			e.res.Err,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	l.written += int64(len(l.batch))
	l.batch = l.batch[:0]
	return nil
}

// Flush writes any buffered results.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushBatch()
}

// Summary aggregates one run's ledger rows.
type Summary struct {
	Windows       int64
	Rows          int64
	Failed        int64
	Resumed       int64
	ElapsedMillis int64
}

// RunSummary returns aggregate counts for a run.
func (l *Ledger) RunSummary(runID string) (Summary, error) {
	if err := l.Flush(); err != nil {
		return Summary{}, err
	}

	var s Summary
	err := l.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(written), 0),
			COALESCE(SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN resumed THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(elapsed_ms), 0)
		FROM window_results
		WHERE run_id = ?
	`, runID).Scan(&s.Windows, &s.Rows, &s.Failed, &s.Resumed, &s.ElapsedMillis)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize run: %w", err)
	}
	return s, nil
}

// Failure is one failed window from the ledger.
type Failure struct {
	JobID     string
	Reference string
	Start     int64
	End       int64
	Err       string
}

// Failures returns the failed windows of a run in window order.
func (l *Ledger) Failures(runID string) ([]Failure, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}

	rows, err := l.db.Query(`
		SELECT job_id, reference, win_start, win_end, error
		FROM window_results
		WHERE run_id = ? AND error <> ''
		ORDER BY win_start
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.JobID, &f.Reference, &f.Start, &f.End, &f.Err); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RunInfo is one run's line in the ledger listing.
type RunInfo struct {
	RunID   string
	Windows int64
	Failed  int64
}

// Runs lists recent runs, newest first.
func (l *Ledger) Runs(limit int) ([]RunInfo, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.Query(`
		SELECT
			run_id,
			COUNT(*),
			COALESCE(SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END), 0)
		FROM window_results
		GROUP BY run_id
		ORDER BY MAX(recorded_at) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.RunID, &r.Windows, &r.Failed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExportCSV dumps the whole ledger to a CSV file via DuckDB's COPY.
func (l *Ledger) ExportCSV(outPath string) error {
	if err := l.Flush(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		COPY window_results TO '%s' (FORMAT CSV, HEADER)
	`, outPath)
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("failed to export csv: %w", err)
	}
	return nil
}

// RowsWritten returns the number of results flushed so far.
func (l *Ledger) RowsWritten() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Close flushes buffered results and releases the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	if err := l.flushBatch(); err != nil {
		return err
	}

	l.stmt.Close()
	l.db.Close()
	l.closed = true
	return nil
}
