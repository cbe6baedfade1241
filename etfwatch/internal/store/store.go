// Package store is the SQLite persistence layer for providers, holdings,
// market values, best ideas and model funds.
//
// Calendar dates are stored as "YYYY-MM-DD" text so that equality and
// ordering work in SQL; instants are Unix milliseconds.
package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Store wraps the etfwatch database.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// WithClock replaces the clock used for created_at and last_* stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func dateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func parseDateKey(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: bad date %q: %w", s, err)
	}
	return t, nil
}

func msPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
