package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBatchNotFound is returned for an unknown batch-run ID.
var ErrBatchNotFound = errors.New("observability: batch run not found")

// BatchRun is one execution of a scheduled process.
type BatchRun struct {
	ID          string     `json:"id"`
	Process     string     `json:"process"`
	Activation  string     `json:"activation"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BatchLog is one note appended to a batch run.
type BatchLog struct {
	ID         string    `json:"id"`
	BatchRunID string    `json:"batch_run_id"`
	CreatedAt  time.Time `json:"created_at"`
	Note       string    `json:"note"`
}

// StartBatch opens a batch run.
func (r *Recorder) StartBatch(ctx context.Context, process, activation string) (*BatchRun, error) {
	b := &BatchRun{
		ID:         r.newID(),
		Process:    process,
		Activation: activation,
		CreatedAt:  r.now(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO batch_run (id, process, activation, created_at) VALUES (?,?,?,?)`,
		b.ID, b.Process, b.Activation, b.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("observability: start batch: %w", err)
	}
	return b, nil
}

// CompleteBatch stamps the completion time of a batch run.
func (r *Recorder) CompleteBatch(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE batch_run SET completed_at = ? WHERE id = ?`, r.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("observability: complete batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// Note appends a line to a batch run.
func (r *Recorder) Note(ctx context.Context, batchRunID, note string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO batch_run_log (id, batch_run_id, created_at, note) VALUES (?,?,?,?)`,
		r.newID(), batchRunID, r.now().UnixMilli(), note)
	if err != nil {
		return fmt.Errorf("observability: batch note: %w", err)
	}
	return nil
}

// BatchRuns returns the latest runs, optionally for one process.
func (r *Recorder) BatchRuns(ctx context.Context, process string, limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, process, activation, created_at, completed_at FROM batch_run`
	var args []any
	if process != "" {
		q += " WHERE process = ?"
		args = append(args, process)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query batch runs: %w", err)
	}
	defer rows.Close()
	var out []BatchRun
	for rows.Next() {
		b, err := scanBatchRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// LastBatch returns the most recent run of process with the given
// activation.
func (r *Recorder) LastBatch(ctx context.Context, process, activation string) (*BatchRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, process, activation, created_at, completed_at FROM batch_run
		 WHERE process = ? AND activation = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		process, activation)
	b, err := scanBatchRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	return b, err
}

// BatchLogs returns the notes of a batch run in insertion order.
func (r *Recorder) BatchLogs(ctx context.Context, batchRunID string) ([]BatchLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, batch_run_id, created_at, note FROM batch_run_log
		 WHERE batch_run_id = ? ORDER BY created_at, rowid`, batchRunID)
	if err != nil {
		return nil, fmt.Errorf("observability: query batch logs: %w", err)
	}
	defer rows.Close()
	var out []BatchLog
	for rows.Next() {
		var l BatchLog
		var ts int64
		if err := rows.Scan(&l.ID, &l.BatchRunID, &ts, &l.Note); err != nil {
			return nil, fmt.Errorf("observability: scan batch log: %w", err)
		}
		l.CreatedAt = time.UnixMilli(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatchRun(s scanner) (*BatchRun, error) {
	var b BatchRun
	var created int64
	var completed sql.NullInt64
	if err := s.Scan(&b.ID, &b.Process, &b.Activation, &created, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("observability: scan batch run: %w", err)
	}
	b.CreatedAt = time.UnixMilli(created)
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		b.CompletedAt = &t
	}
	return &b, nil
}
