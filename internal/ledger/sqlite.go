package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// tsLayout is fixed width so timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// index mirrors the journal in SQLite for queries.
type index struct {
	db *sql.DB
}

// Summary aggregates the evolution history of one module.
type Summary struct {
	Module       string    `json:"module"`
	Evaluations  int       `json:"evaluations"`
	Accepted     int       `json:"accepted"`
	Rejected     int       `json:"rejected"`
	Unsafe       int       `json:"unsafe"`
	BestTotal    float64   `json:"best_total"`
	LastDecision string    `json:"last_decision"`
	LastAt       time.Time `json:"last_at"`
}

func openIndex(ctx context.Context, path string) (*index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger index: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &index{db: db}
	if err := idx.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return idx, nil
}

func (x *index) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS evolutions (
		evaluation_id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		module TEXT NOT NULL,
		old_complexity INTEGER NOT NULL,
		new_complexity INTEGER NOT NULL,
		score_improvement REAL NOT NULL,
		performance_improvement REAL NOT NULL,
		total_improvement REAL NOT NULL,
		decision TEXT NOT NULL,
		accepted INTEGER NOT NULL,
		indeterminate INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		old_fingerprint TEXT NOT NULL,
		new_fingerprint TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evolutions_module ON evolutions(module, timestamp);
	CREATE INDEX IF NOT EXISTS idx_evolutions_candidate ON evolutions(module, new_fingerprint);
	`
	_, err := x.db.ExecContext(ctx, schema)
	return err
}

func (x *index) insert(ctx context.Context, rec Record) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO evolutions
		(evaluation_id, timestamp, module, old_complexity, new_complexity,
		 score_improvement, performance_improvement, total_improvement,
		 decision, accepted, indeterminate, reason, old_fingerprint, new_fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EvaluationID, rec.Timestamp.UTC().Format(tsLayout), rec.Module,
		rec.OldComplexity, rec.NewComplexity,
		rec.ScoreImprovement, rec.PerformanceImprovement, rec.TotalImprovement,
		rec.Decision, boolInt(rec.Accepted), boolInt(rec.Indeterminate), rec.Reason,
		rec.OldFingerprint, rec.NewFingerprint,
	)
	if err != nil {
		return fmt.Errorf("failed to index record %s: %w", rec.EvaluationID, err)
	}
	return nil
}

func (x *index) count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evolutions`).Scan(&n)
	return n, err
}

func (x *index) summaries(ctx context.Context, module string) ([]Summary, error) {
	query := `
		SELECT module,
		       COUNT(*),
		       SUM(accepted),
		       SUM(CASE WHEN accepted = 0 AND decision != ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN decision = ? THEN 1 ELSE 0 END),
		       MAX(total_improvement),
		       MAX(timestamp)
		FROM evolutions`
	args := []any{DecisionRejectedUnsafe, DecisionRejectedUnsafe}
	if module != "" {
		query += ` WHERE module = ?`
		args = append(args, module)
	}
	query += ` GROUP BY module ORDER BY module`

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var last string
		if err := rows.Scan(&s.Module, &s.Evaluations, &s.Accepted, &s.Rejected, &s.Unsafe, &s.BestTotal, &last); err != nil {
			return nil, err
		}
		s.LastAt, _ = time.Parse(tsLayout, last)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		err := x.db.QueryRowContext(ctx,
			`SELECT decision FROM evolutions WHERE module = ? ORDER BY timestamp DESC LIMIT 1`,
			out[i].Module).Scan(&out[i].LastDecision)
		if err != nil {
			return nil, fmt.Errorf("failed to query last decision: %w", err)
		}
	}
	return out, nil
}

func (x *index) wasRejected(ctx context.Context, module, fingerprint string) (bool, error) {
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evolutions WHERE module = ? AND new_fingerprint = ? AND accepted = 0`,
		module, fingerprint).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query rejections: %w", err)
	}
	return n > 0, nil
}

func (x *index) history(ctx context.Context, module string, limit int) ([]Record, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT evaluation_id, timestamp, module, old_complexity, new_complexity,
		       score_improvement, performance_improvement, total_improvement,
		       decision, accepted, indeterminate, reason, old_fingerprint, new_fingerprint
		FROM evolutions WHERE module = ? ORDER BY timestamp DESC LIMIT ?`, module, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		var accepted, indeterminate int
		if err := rows.Scan(&rec.EvaluationID, &ts, &rec.Module, &rec.OldComplexity, &rec.NewComplexity,
			&rec.ScoreImprovement, &rec.PerformanceImprovement, &rec.TotalImprovement,
			&rec.Decision, &accepted, &indeterminate, &rec.Reason,
			&rec.OldFingerprint, &rec.NewFingerprint); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = time.Parse(tsLayout, ts)
		rec.Accepted = accepted != 0
		rec.Indeterminate = indeterminate != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (x *index) close() error {
	return x.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
