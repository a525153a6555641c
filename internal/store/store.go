package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"capacityeval/internal/billing"
	"capacityeval/internal/logging"
	"capacityeval/internal/output"
)

// ErrRunNotFound is returned by LoadRun for an unknown run id
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	generated_at INTEGER NOT NULL,
	region TEXT NOT NULL,
	source TEXT NOT NULL,
	evaluated INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	not_optimized INTEGER NOT NULL,
	current_monthly_cost REAL NOT NULL,
	monthly_savings REAL NOT NULL,
	failures TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_generated ON runs(generated_at DESC);

CREATE TABLE IF NOT EXISTS recommendations (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	resource_id TEXT NOT NULL,
	status TEXT NOT NULL,
	recommended_mode TEXT NOT NULL,
	monthly_savings REAL NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (run_id, resource_id)
);

CREATE INDEX IF NOT EXISTS idx_recommendations_resource ON recommendations(resource_id);
`

// Store keeps the history of evaluation runs in SQLite
type Store struct {
	db   *sql.DB
	path string
}

// Run summarises a stored evaluation run
type Run struct {
	RunID       string
	GeneratedAt time.Time
	Region      string
	Source      string
	Summary     output.Summary
}

// HistoryEntry is one stored recommendation of a resource
type HistoryEntry struct {
	RunID          string
	GeneratedAt    time.Time
	Recommendation *billing.Recommendation
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Debug("Opened recommendation store", map[string]interface{}{"path": path})
	return &Store{db: db, path: path}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a report and its recommendations. A report without a run
// id is assigned a new one.
func (s *Store) SaveRun(ctx context.Context, report *output.Report) error {
	if report.RunID == "" {
		report.RunID = uuid.NewString()
	} else if _, err := uuid.Parse(report.RunID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", report.RunID, err)
	}

	failures, err := json.Marshal(report.Failures)
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, generated_at, region, source, evaluated, failed,
			not_optimized, current_monthly_cost, monthly_savings, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID,
		report.GeneratedAt.UTC().UnixNano(),
		report.Region,
		report.Source,
		report.Summary.Evaluated,
		report.Summary.Failed,
		report.Summary.NotOptimized,
		report.Summary.CurrentMonthlyCost,
		report.Summary.MonthlySavings,
		string(failures),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recommendations (run_id, resource_id, status, recommended_mode, monthly_savings, data)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range report.Recommendations {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal recommendation %s: %w", rec.ResourceID, err)
		}
		if _, err := stmt.ExecContext(ctx, report.RunID, rec.ResourceID, string(rec.Status),
			string(rec.RecommendedMode), rec.MonthlySavings, string(data)); err != nil {
			return fmt.Errorf("failed to insert recommendation %s: %w", rec.ResourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
	}

	logging.Info("Stored evaluation run", map[string]interface{}{
		"run_id":          report.RunID,
		"recommendations": len(report.Recommendations),
		"path":            s.path,
	})
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT run_id, generated_at, region, source, evaluated, failed,
			not_optimized, current_monthly_cost, monthly_savings
		FROM runs ORDER BY generated_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r         Run
			generated int64
		)
		if err := rows.Scan(&r.RunID, &generated, &r.Region, &r.Source,
			&r.Summary.Evaluated, &r.Summary.Failed, &r.Summary.NotOptimized,
			&r.Summary.CurrentMonthlyCost, &r.Summary.MonthlySavings); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.GeneratedAt = time.Unix(0, generated).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadRun rebuilds the report stored under runID
func (s *Store) LoadRun(ctx context.Context, runID string) (*output.Report, error) {
	var (
		report    output.Report
		generated int64
		failures  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, generated_at, region, source, evaluated, failed,
			not_optimized, current_monthly_cost, monthly_savings, failures
		FROM runs WHERE run_id = ?`, runID).Scan(
		&report.RunID, &generated, &report.Region, &report.Source,
		&report.Summary.Evaluated, &report.Summary.Failed, &report.Summary.NotOptimized,
		&report.Summary.CurrentMonthlyCost, &report.Summary.MonthlySavings, &failures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	report.GeneratedAt = time.Unix(0, generated).UTC()

	if err := json.Unmarshal([]byte(failures), &report.Failures); err != nil {
		return nil, fmt.Errorf("failed to decode failures of run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM recommendations WHERE run_id = ? ORDER BY resource_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		report.Recommendations = append(report.Recommendations, rec)
	}
	return &report, rows.Err()
}

// History returns every stored recommendation of a resource, oldest first
func (s *Store) History(ctx context.Context, resourceID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.generated_at, c.data
		FROM recommendations c JOIN runs r ON r.run_id = c.run_id
		WHERE c.resource_id = ?
		ORDER BY r.generated_at, r.run_id`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var (
			entry     HistoryEntry
			generated int64
			data      string
		)
		if err := rows.Scan(&entry.RunID, &generated, &data); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entry.GeneratedAt = time.Unix(0, generated).UTC()
		entry.Recommendation = &billing.Recommendation{}
		if err := json.Unmarshal([]byte(data), entry.Recommendation); err != nil {
			return nil, fmt.Errorf("failed to decode recommendation: %w", err)
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

// Prune deletes runs generated before cutoff and returns how many were removed
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE generated_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Pruned evaluation runs", map[string]interface{}{"removed": n})
	}
	return n, nil
}

func scanRecommendation(rows *sql.Rows) (*billing.Recommendation, error) {
	var data string
	if err := rows.Scan(&data); err != nil {
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}
	rec := &billing.Recommendation{}
	if err := json.Unmarshal([]byte(data), rec); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation: %w", err)
	}
	return rec, nil
}
