package dbopen

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const maxAttempts = 3

// IsBusy reports whether err indicates an SQLite BUSY condition that a
// retry can resolve.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx executes fn inside a transaction, retrying on SQLITE_BUSY up to 3
// times with 100/200 ms backoff. busy_timeout covers single statements;
// this covers whole multi-statement write transactions.
func RunTx(db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for i := range maxAttempts {
		err = runOnce(db, fn)
		if err == nil || !IsBusy(err) {
			return err
		}
		if i < maxAttempts-1 {
			time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
		}
	}
	return fmt.Errorf("dbopen: tx retries exhausted: %w", err)
}

func runOnce(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}
