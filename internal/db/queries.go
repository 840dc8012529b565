package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/iterate"
)

// ErrNotFound is returned for unknown runs.
var ErrNotFound = errors.New("not found")

// Run represents a row in the runs table.
type Run struct {
	ID            string
	Contract      string
	Targets       []string
	MaxIterations int
	Policy        string
	Status        string
	FinalDigest   string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// Iteration represents a row in the iterations table.
type Iteration struct {
	RunID      string
	Attempt    int
	Action     string
	Passed     bool
	Errors     int
	Warnings   int
	Issues     int
	Digest     string
	Diagnostic string
	Feedback   json.RawMessage
	StartedAt  time.Time
	FinishedAt time.Time
}

// StageResult represents a row in the stage_results table.
type StageResult struct {
	RunID       string
	Attempt     int
	Position    int
	Stage       string
	Critical    bool
	Passed      bool
	Errors      int
	Warnings    int
	DurationMs  int64
	Diagnostics json.RawMessage
}

// CreateRun inserts a run.
func (d *DB) CreateRun(ctx context.Context, run iterate.Run) error {
	targets := run.Targets
	if targets == nil {
		targets = []string{}
	}
	_, err := d.pool.Exec(ctx,
		`INSERT INTO runs (id, contract, targets, max_iterations, policy, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Contract, targets, run.MaxIterations, string(run.Policy), run.Started,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// RecordIteration inserts an attempt and its stage results in one transaction.
func (d *DB) RecordIteration(ctx context.Context, runID string, rec iterate.Record) error {
	fb, err := json.Marshal(rec.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	if rec.Feedback == nil {
		fb = []byte("[]")
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO iterations (run_id, attempt, action, passed, errors, warnings, issues, digest, diagnostic, feedback, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)`,
		runID, rec.Attempt, string(rec.Action), rec.Result.Passed,
		rec.Result.Summary.TotalErrors, rec.Result.Summary.TotalWarnings, rec.Feedback.Count(),
		rec.Code.Digest(), rec.Diagnostic, string(fb), rec.Started, rec.Finished,
	)
	if err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}

	batch := &pgx.Batch{}
	for i, s := range rec.Result.Stages {
		diags, err := json.Marshal(append(append([]checks.Diagnostic{}, s.Errors...), s.Warnings...))
		if err != nil {
			return fmt.Errorf("marshal diagnostics: %w", err)
		}
		batch.Queue(
			`INSERT INTO stage_results (run_id, attempt, position, stage, critical, passed, errors, warnings, duration_ms, diagnostics)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			runID, rec.Attempt, i, s.Stage, s.Critical, s.Passed, len(s.Errors), len(s.Warnings), s.Duration.Milliseconds(), string(diags),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert stage results: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// FinishRun stores the terminal status of a run.
func (d *DB) FinishRun(ctx context.Context, runID string, out *iterate.Outcome) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE runs SET status = $2, final_digest = $3, finished_at = $4 WHERE id = $1`,
		runID, string(out.Status), out.FinalCode.Digest(), out.Finished,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, contract, targets, max_iterations, policy, status, COALESCE(final_digest, ''), started_at, finished_at`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.Contract, &r.Targets, &r.MaxIterations, &r.Policy, &r.Status, &r.FinalDigest, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun returns one run.
func (d *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(d.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. Empty contract or status
// match everything; limit <= 0 means 50.
func (d *DB) ListRuns(ctx context.Context, contract, status string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE ($1 = '' OR contract = $1) AND ($2 = '' OR status = $2)
		 ORDER BY started_at DESC, id LIMIT $3`,
		contract, status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Iterations returns the attempts of a run in order.
func (d *DB) Iterations(ctx context.Context, runID string) ([]Iteration, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT run_id, attempt, action, passed, errors, warnings, issues, digest, COALESCE(diagnostic, ''), feedback, started_at, finished_at
		 FROM iterations WHERE run_id = $1 ORDER BY attempt`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		if err := rows.Scan(&it.RunID, &it.Attempt, &it.Action, &it.Passed, &it.Errors, &it.Warnings, &it.Issues,
			&it.Digest, &it.Diagnostic, &it.Feedback, &it.StartedAt, &it.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// StageResults returns the stage rows of one attempt in pipeline order.
func (d *DB) StageResults(ctx context.Context, runID string, attempt int) ([]StageResult, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT run_id, attempt, position, stage, critical, passed, errors, warnings, duration_ms, diagnostics
		 FROM stage_results WHERE run_id = $1 AND attempt = $2 ORDER BY position`,
		runID, attempt,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer rows.Close()

	var out []StageResult
	for rows.Next() {
		var s StageResult
		if err := rows.Scan(&s.RunID, &s.Attempt, &s.Position, &s.Stage, &s.Critical, &s.Passed,
			&s.Errors, &s.Warnings, &s.DurationMs, &s.Diagnostics); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Observer records run progress into the database.
func (d *DB) Observer() iterate.Observer {
	return observer{d}
}

type observer struct{ d *DB }

func (o observer) RunStarted(ctx context.Context, run iterate.Run) error {
	return o.d.CreateRun(ctx, run)
}

func (o observer) IterationRecorded(ctx context.Context, run iterate.Run, rec iterate.Record) error {
	return o.d.RecordIteration(ctx, run.ID, rec)
}

func (o observer) RunFinished(ctx context.Context, run iterate.Run, out *iterate.Outcome) error {
	return o.d.FinishRun(ctx, run.ID, out)
}
