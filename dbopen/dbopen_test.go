package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/etfwatch/dbopen"
)

func TestOpenPragmas(t *testing.T) {
	// WHAT: OpenMemory applies foreign keys, synchronous and busy_timeout.
	// WHY: Holdings replacement relies on FK cascades and busy retries.
	db := dbopen.OpenMemory(t)

	var fk, sync, busy int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if sync != 1 {
		t.Fatalf("synchronous = %d, want 1 (NORMAL)", sync)
	}
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 10_000 {
		t.Fatalf("busy_timeout = %d, want 10000", busy)
	}
}

func TestOptions(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithBusyTimeout(5000),
		dbopen.WithSynchronous("FULL"),
		dbopen.WithoutForeignKeys(),
	)

	var fk, sync, busy int
	db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	db.QueryRow("PRAGMA synchronous").Scan(&sync)
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	if fk != 0 || sync != 2 || busy != 5000 {
		t.Fatalf("pragmas: fk=%d sync=%d busy=%d, want 0 2 5000", fk, sync, busy)
	}
}

func TestWithSchemaOrder(t *testing.T) {
	// WHAT: schemas run in order, so a later schema may reference an earlier one.
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(`CREATE TABLE provider (id INTEGER PRIMARY KEY)`),
		dbopen.WithSchema(`CREATE TABLE provider_etf (id INTEGER PRIMARY KEY, provider_id INTEGER REFERENCES provider(id))`),
	)
	if _, err := db.Exec(`INSERT INTO provider (id) VALUES (1)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO provider_etf (id, provider_id) VALUES (1, 1)`); err != nil {
		t.Fatalf("insert child: %v", err)
	}
}

func TestWithMkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "etfwatch.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("constraint failed"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked"), true},
		{errors.New("exec: database table is locked (6)"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTxRollback(t *testing.T) {
	// WHAT: an error from fn rolls back every statement in the transaction.
	// WHY: a holdings replace must never leave the delete without the insert.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE holding (ticker TEXT PRIMARY KEY)`))
	ctx := context.Background()
	if _, err := dbopen.Exec(ctx, db, `INSERT INTO holding (ticker) VALUES ('AAPL')`); err != nil {
		t.Fatal(err)
	}

	sentinel := errors.New("insert failed")
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM holding`); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunTx error = %v, want sentinel", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM holding`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1 after rollback", count)
	}
}

func TestRunTxContextCancelled(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error { return nil })
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
