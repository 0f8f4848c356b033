// Package vehstatus derives and maintains per-vehicle unloading lifecycle
// rows from request documents. It owns the vehicle_statuses table
// exclusively: one row per (request id, normalized plate), created by
// reconciliation against a request's driver list, enriched by ad hoc status
// actions, retired by time-driven maintenance.
package vehstatus

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmtrans/freightboard/dbopen"
	"github.com/jmtrans/freightboard/normalize"
	"github.com/jmtrans/freightboard/request"
)

// Schema for the vehicle_statuses table. Apply via dbopen.WithSchema or Init.
const Schema = `
CREATE TABLE IF NOT EXISTS vehicle_statuses (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id     INTEGER NOT NULL,
	vehicle_number TEXT NOT NULL,
	load_date      TEXT,
	status_text    TEXT NOT NULL DEFAULT '',
	status_date    TEXT,
	unloaded       INTEGER NOT NULL DEFAULT 0,
	unload_date    TEXT,
	created_at     TEXT NOT NULL DEFAULT (datetime('now')),
	last_updated   TEXT NOT NULL DEFAULT (datetime('now')),
	UNIQUE (request_id, vehicle_number)
);
CREATE INDEX IF NOT EXISTS idx_vehicle_statuses_req ON vehicle_statuses(request_id);
`

// Row is one per-vehicle tracking record.
type Row struct {
	ID            int64   `json:"id"`
	RequestID     int64   `json:"request_id"`
	VehicleNumber string  `json:"vehicle_number"`
	LoadDate      *string `json:"load_date"`
	StatusText    string  `json:"status_text"`
	StatusDate    *string `json:"status_date"`
	Unloaded      bool    `json:"unloaded"`
	UnloadDate    *string `json:"unload_date"`
	CreatedAt     string  `json:"created_at"`
	LastUpdated   string  `json:"last_updated"`
}

// Engine reconciles vehicle status rows against live request documents.
// It reads requests through the store (never raw SQL against the requests
// table) and is the only writer of vehicle_statuses.
type Engine struct {
	db       *sql.DB
	requests *request.Store
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates a status engine over the given database and request store.
func New(db *sql.DB, requests *request.Store, opts ...Option) *Engine {
	e := &Engine{db: db, requests: requests, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Init creates the vehicle_statuses table if it doesn't exist.
func (e *Engine) Init() error {
	_, err := e.db.Exec(Schema)
	return err
}

// List returns every status row, active rows first, most recently touched
// first within each group.
func (e *Engine) List() ([]Row, error) {
	rows, err := e.db.Query(`
		SELECT id, request_id, vehicle_number, load_date, status_text, status_date,
		       unloaded, unload_date, created_at, last_updated
		  FROM vehicle_statuses
		 ORDER BY unloaded ASC, last_updated DESC, request_id, vehicle_number`)
	if err != nil {
		return nil, fmt.Errorf("vehstatus: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var loadDate, statusDate, unloadDate sql.NullString
		if err := rows.Scan(&r.ID, &r.RequestID, &r.VehicleNumber, &loadDate, &r.StatusText,
			&statusDate, &r.Unloaded, &unloadDate, &r.CreatedAt, &r.LastUpdated); err != nil {
			return nil, fmt.Errorf("vehstatus: list scan: %w", err)
		}
		r.LoadDate = nullable(loadDate)
		r.StatusDate = nullable(statusDate)
		r.UnloadDate = nullable(unloadDate)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert creates or refreshes one row. The load date is written only when
// the incoming value is non-nil and the stored one is still null; a known
// date is never overwritten by a fallback. Malformed identifiers are a
// no-op, not an error.
func (e *Engine) Upsert(requestID int64, vehicleNumber string, loadDate *string) error {
	v := normalize.VehicleNumber(vehicleNumber)
	if requestID <= 0 || v == "" {
		return nil
	}
	return e.upsert(e.db, requestID, v, loadDate)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (e *Engine) upsert(db execer, requestID int64, vehicle string, loadDate *string) error {
	_, err := db.Exec(`
		INSERT INTO vehicle_statuses (request_id, vehicle_number, load_date)
		VALUES (?, ?, ?)
		ON CONFLICT (request_id, vehicle_number)
		DO UPDATE SET
			load_date    = COALESCE(excluded.load_date, vehicle_statuses.load_date),
			last_updated = datetime('now')`,
		requestID, vehicle, loadDate)
	if err != nil {
		return fmt.Errorf("vehstatus: upsert %d/%s: %w", requestID, vehicle, err)
	}
	return nil
}

// ReconcileFromRequest diffs the request's driver list against the stored
// rows and applies the minimal set of upserts and deletes. Idempotent:
// repeated calls with an unchanged document converge to the same row set.
func (e *Engine) ReconcileFromRequest(doc request.Document) error {
	rid, ok := doc.ID()
	if !ok {
		return nil
	}
	expected := expectedVehicles(doc)

	err := dbopen.RunTx(e.db, func(tx *sql.Tx) error {
		// Current rows in raw form; comparison is on the normalized form,
		// deletion targets the raw value actually stored.
		rawRows, err := rawVehicles(tx, rid)
		if err != nil {
			return err
		}

		for v, date := range expected {
			if err := e.upsert(tx, rid, v, date); err != nil {
				return err
			}
		}

		for _, raw := range rawRows {
			if _, keep := expected[normalize.VehicleNumber(raw)]; keep {
				continue
			}
			if _, err := tx.Exec(
				"DELETE FROM vehicle_statuses WHERE request_id = ? AND vehicle_number = ?",
				rid, raw); err != nil {
				return fmt.Errorf("delete %s: %w", raw, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("vehstatus: reconcile id=%d: %w", rid, err)
	}
	return nil
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func rawVehicles(db querier, requestID int64) ([]string, error) {
	rows, err := db.Query("SELECT vehicle_number FROM vehicle_statuses WHERE request_id = ?", requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetStatusText sets the free-text daily status for one vehicle, creating
// the row first if it doesn't exist. status_date is stamped with the local
// date: the midnight reset fires at local midnight, so stamp and reset
// predicate must share the local clock.
func (e *Engine) SetStatusText(requestID int64, vehicleNumber, text string) error {
	v := normalize.VehicleNumber(vehicleNumber)
	if requestID <= 0 || v == "" {
		return nil
	}
	if err := e.upsert(e.db, requestID, v, nil); err != nil {
		return err
	}
	_, err := e.db.Exec(`
		UPDATE vehicle_statuses
		   SET status_text  = ?,
		       status_date  = DATE('now', 'localtime'),
		       last_updated = datetime('now')
		 WHERE request_id = ? AND vehicle_number = ?`,
		text, requestID, v)
	if err != nil {
		return fmt.Errorf("vehstatus: set text %d/%s: %w", requestID, v, err)
	}
	return nil
}

// ToggleUnloaded updates the unloaded flag and/or unload date for one
// vehicle, creating the row first if it doesn't exist. A nil unloaded means
// "date only": the flag stays as it is.
func (e *Engine) ToggleUnloaded(requestID int64, vehicleNumber string, unloaded *bool, unloadDate *string) error {
	v := normalize.VehicleNumber(vehicleNumber)
	if requestID <= 0 || v == "" {
		return nil
	}
	if err := e.upsert(e.db, requestID, v, nil); err != nil {
		return err
	}

	var err error
	if unloaded == nil {
		_, err = e.db.Exec(`
			UPDATE vehicle_statuses
			   SET unload_date  = ?,
			       last_updated = datetime('now')
			 WHERE request_id = ? AND vehicle_number = ?`,
			truncDatePtr(unloadDate), requestID, v)
	} else {
		_, err = e.db.Exec(`
			UPDATE vehicle_statuses
			   SET unloaded     = ?,
			       unload_date  = ?,
			       last_updated = datetime('now')
			 WHERE request_id = ? AND vehicle_number = ?`,
			*unloaded, truncDatePtr(unloadDate), requestID, v)
	}
	if err != nil {
		return fmt.Errorf("vehstatus: toggle %d/%s: %w", requestID, v, err)
	}
	return nil
}

// AllUnloaded reports whether every vehicle the request currently expects
// (recomputed from the live document, not from stored rows) is flagged
// unloaded. The flag is OR'd across raw-form duplicates. An empty expected
// set yields false.
func (e *Engine) AllUnloaded(requestID int64) bool {
	doc, err := e.requests.Get(requestID)
	if err != nil {
		return false
	}
	expected := expectedVehicles(doc)
	if len(expected) == 0 {
		return false
	}

	rows, err := e.db.Query(
		"SELECT vehicle_number, unloaded FROM vehicle_statuses WHERE request_id = ?", requestID)
	if err != nil {
		e.logger.Error("vehstatus: all-unloaded query failed", "request_id", requestID, "error", err)
		return false
	}
	defer rows.Close()

	unloaded := make(map[string]bool)
	for rows.Next() {
		var v string
		var u bool
		if err := rows.Scan(&v, &u); err != nil {
			e.logger.Error("vehstatus: all-unloaded scan failed", "request_id", requestID, "error", err)
			return false
		}
		norm := normalize.VehicleNumber(v)
		unloaded[norm] = unloaded[norm] || u
	}
	if rows.Err() != nil {
		return false
	}

	for v := range expected {
		if !unloaded[v] {
			return false
		}
	}
	return true
}

// AutoCloseIfUnloaded marks the owning request closed when every expected
// vehicle is unloaded, via a full request store write. Returns the updated
// document and true when the close happened.
func (e *Engine) AutoCloseIfUnloaded(requestID int64) (request.Document, bool) {
	if !e.AllUnloaded(requestID) {
		return nil, false
	}
	doc, err := e.requests.Get(requestID)
	if err != nil {
		e.logger.Error("vehstatus: auto-close read failed", "request_id", requestID, "error", err)
		return nil, false
	}
	doc["status"] = normalize.StatusClosed
	saved, err := e.requests.Save(doc)
	if err != nil {
		e.logger.Error("vehstatus: auto-close save failed", "request_id", requestID, "error", err)
		return nil, false
	}
	return saved, true
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func truncDatePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := truncDate(*s)
	if v == "" {
		return nil
	}
	return &v
}
