package observability

import "database/sql"

// Schema is the DDL for the status log and the batch-run audit trail.
const Schema = `
CREATE TABLE IF NOT EXISTS log (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    process TEXT NOT NULL,
    log_type TEXT NOT NULL CHECK (log_type IN ('status', 'notice', 'error')),
    code TEXT,
    msg TEXT NOT NULL,
    batch_run_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_log_created ON log(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_log_process ON log(process, log_type);

CREATE TABLE IF NOT EXISTS batch_run (
    id TEXT PRIMARY KEY,
    process TEXT NOT NULL,
    activation TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_batch_run_process ON batch_run(process, created_at DESC);

CREATE TABLE IF NOT EXISTS batch_run_log (
    id TEXT PRIMARY KEY,
    batch_run_id TEXT NOT NULL REFERENCES batch_run(id) ON DELETE CASCADE,
    created_at INTEGER NOT NULL,
    note TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batch_run_log_run ON batch_run_log(batch_run_id, created_at);
`

// Init applies the observability schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
