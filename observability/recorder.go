// Package observability persists the pipeline's status log and batch-run
// audit trail in SQLite.
//
// Status lines are written asynchronously: Record queues, a background
// loop flushes in batches, and a full buffer falls back to a synchronous
// insert. Batch runs and their notes are written synchronously because
// they mark checkpoints.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/etfwatch/idgen"
)

// Type classifies a status log line.
type Type string

const (
	TypeStatus Type = "status"
	TypeNotice Type = "notice"
	TypeError  Type = "error"
)

// Log is one status log line.
type Log struct {
	ID         string
	CreatedAt  time.Time
	Process    string
	Type       Type
	Code       string
	Msg        string
	BatchRunID string
}

// LogFilter selects status log lines.
type LogFilter struct {
	Process string
	Type    Type
	Since   time.Time
	Limit   int // default 100
}

// Recorder writes status lines and batch runs.
type Recorder struct {
	db       *sql.DB
	logger   *slog.Logger
	newID    idgen.Generator
	now      func() time.Time
	interval time.Duration
	batch    int
	ch       chan *Log
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithIDGenerator sets the generator for row IDs.
func WithIDGenerator(gen idgen.Generator) RecorderOption {
	return func(r *Recorder) { r.newID = gen }
}

// WithLogger mirrors every status line to logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithBuffer sets the queue capacity. Default 1000.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) { r.ch = make(chan *Log, n) }
}

// WithFlushInterval sets the periodic flush. Default 5s.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.interval = d }
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = fn }
}

// NewRecorder starts the flush loop. Close must be called to drain it.
func NewRecorder(db *sql.DB, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		db:       db,
		logger:   slog.Default(),
		newID:    idgen.Prefixed("log_", idgen.Default),
		now:      time.Now,
		interval: 5 * time.Second,
		batch:    100,
		ch:       make(chan *Log, 1000),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.flushLoop()
	return r
}

// Status records a status line.
func (r *Recorder) Status(process, msg string) {
	r.Record(&Log{Process: process, Type: TypeStatus, Msg: msg})
}

// Notice records a recoverable problem.
func (r *Recorder) Notice(process, msg string) {
	r.Record(&Log{Process: process, Type: TypeNotice, Msg: msg})
}

// Error records a failure with an optional code.
func (r *Recorder) Error(process, code, msg string) {
	r.Record(&Log{Process: process, Type: TypeError, Code: code, Msg: msg})
}

// Record queues l. A full queue falls back to a synchronous insert.
func (r *Recorder) Record(l *Log) {
	r.fillDefaults(l)
	r.mirror(l)
	select {
	case r.ch <- l:
	default:
		r.logger.Warn("observability: log buffer full, sync fallback", "process", l.Process)
		if err := r.insert(context.Background(), l); err != nil {
			r.logger.Error("observability: sync fallback failed", "error", err)
		}
	}
}

func (r *Recorder) mirror(l *Log) {
	attrs := []any{"process", l.Process}
	if l.Code != "" {
		attrs = append(attrs, "code", l.Code)
	}
	switch l.Type {
	case TypeError:
		r.logger.Error(l.Msg, attrs...)
	case TypeNotice:
		r.logger.Warn(l.Msg, attrs...)
	default:
		r.logger.Info(l.Msg, attrs...)
	}
}

func (r *Recorder) fillDefaults(l *Log) {
	if l.ID == "" {
		l.ID = r.newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.now()
	}
	if l.Type == "" {
		l.Type = TypeStatus
	}
	if l.Process == "" {
		l.Process = "service"
	}
}

// Close drains the queue and stops the flush loop. Later calls are no-ops.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	batch := make([]*Log, 0, r.batch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.insertBatch(ctx, batch); err != nil {
			r.logger.Error("observability: flush", "error", err, "lines", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-r.stop:
			for {
				select {
				case l := <-r.ch:
					batch = append(batch, l)
				default:
					flush()
					return
				}
			}
		case l := <-r.ch:
			batch = append(batch, l)
			if len(batch) >= r.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const insertLog = `INSERT INTO log (id, created_at, process, log_type, code, msg, batch_run_id)
	VALUES (?,?,?,?,?,?,?)`

func (r *Recorder) insertBatch(ctx context.Context, batch []*Log) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("observability: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertLog)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("observability: prepare: %w", err)
	}
	defer stmt.Close()
	for _, l := range batch {
		if _, err := stmt.ExecContext(ctx, logArgs(l)...); err != nil {
			r.logger.Error("observability: insert", "error", err, "id", l.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("observability: commit: %w", err)
	}
	return nil
}

func (r *Recorder) insert(ctx context.Context, l *Log) error {
	_, err := r.db.ExecContext(ctx, insertLog, logArgs(l)...)
	return err
}

func logArgs(l *Log) []any {
	return []any{l.ID, l.CreatedAt.UnixMilli(), l.Process, string(l.Type),
		nullString(l.Code), l.Msg, nullString(l.BatchRunID)}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Logs returns status lines, newest first.
func (r *Recorder) Logs(ctx context.Context, f LogFilter) ([]Log, error) {
	q := `SELECT id, created_at, process, log_type, code, msg, batch_run_id FROM log WHERE 1=1`
	var args []any
	if f.Process != "" {
		q += " AND process = ?"
		args = append(args, f.Process)
	}
	if f.Type != "" {
		q += " AND log_type = ?"
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query logs: %w", err)
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		var l Log
		var ts int64
		var typ string
		var code, batch sql.NullString
		if err := rows.Scan(&l.ID, &ts, &l.Process, &typ, &code, &l.Msg, &batch); err != nil {
			return nil, fmt.Errorf("observability: scan log: %w", err)
		}
		l.CreatedAt = time.UnixMilli(ts)
		l.Type = Type(typ)
		l.Code = code.String
		l.BatchRunID = batch.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// Cleanup deletes status lines and completed batch runs older than
// retentionDays.
func (r *Recorder) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := r.now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := r.db.ExecContext(ctx, "DELETE FROM log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup log: %w", err)
	}
	n, _ := res.RowsAffected()
	res, err = r.db.ExecContext(ctx,
		"DELETE FROM batch_run WHERE created_at < ? AND completed_at IS NOT NULL", cutoff)
	if err != nil {
		return n, fmt.Errorf("observability: cleanup batch_run: %w", err)
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}
