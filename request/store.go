// Package request persists freight requests as opaque JSON documents keyed
// by an integer identity. The store owns id assignment and the
// anti-duplication rule: a document that carries an id is only ever
// updated, never inserted, so an id race can't clone a record.
package request

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmtrans/freightboard/dbopen"
	"github.com/jmtrans/freightboard/normalize"
)

// Schema for the requests table. Apply via dbopen.WithSchema or Init.
const Schema = `
CREATE TABLE IF NOT EXISTS requests (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	data TEXT NOT NULL
);
`

// Document is a freight request as the clients see it: an arbitrary field
// mapping. The store manages only two fields, "id" and "status"; everything
// else passes through opaque.
type Document map[string]any

// ID extracts the document's id, coercing from int, float or digit string.
// Returns false when the field is absent or unparseable.
func (d Document) ID() (int64, bool) {
	return CoerceID(d["id"])
}

// CoerceID converts a raw id value (int, float or digit string, anything a
// JSON decode or a sloppy client can produce) into positive integer form.
func CoerceID(v any) (int64, bool) {
	var n int64
	switch id := v.(type) {
	case int64:
		n = id
	case int:
		n = int64(id)
	case float64:
		n = int64(id)
	case json.Number:
		parsed, err := id.Int64()
		if err != nil {
			return 0, false
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

// Store persists request documents in the requests table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a request store backed by the given database.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the requests table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Save persists a document. If the document carries a usable id the write is
// update-only: a missing row yields *ErrNotFound and no insert happens. If
// the id is absent or unparseable, the store inserts and assigns a fresh id.
// The "status" field is normalized on every write. The returned document is
// a copy carrying the final integer id.
func (s *Store) Save(doc Document) (Document, error) {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}

	if _, ok := out["status"]; ok {
		out["status"] = normalize.RequestStatus(str(out["status"]))
	}

	id, hasID := out.ID()
	if hasID {
		out["id"] = id
	} else {
		// Don't let an empty or broken id reach the UPDATE path.
		delete(out, "id")
	}

	data, err := marshalDocument(out)
	if err != nil {
		return nil, fmt.Errorf("request: encode: %w", err)
	}

	if hasID {
		res, err := s.db.Exec("UPDATE requests SET data = ? WHERE id = ?", data, id)
		if err != nil {
			return nil, fmt.Errorf("request: update id=%d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("request: update id=%d: %w", id, err)
		}
		if n == 0 {
			s.logger.Error("request: update matched no rows, save refused", "id", id)
			return nil, &ErrNotFound{ID: id}
		}
		return out, nil
	}

	// Insert and stamp the assigned id back into the stored JSON in one
	// transaction, so no reader ever sees a document without its id.
	err = dbopen.RunTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec("INSERT INTO requests (data) VALUES (?)", data)
		if err != nil {
			return err
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		out["id"] = newID
		stamped, err := marshalDocument(out)
		if err != nil {
			return err
		}
		_, err = tx.Exec("UPDATE requests SET data = ? WHERE id = ?", stamped, newID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("request: insert: %w", err)
	}
	return out, nil
}

// Get fetches one document by id. The id is coerced from string/float/int
// form before lookup. Returns *ErrNotFound when no row exists.
func (s *Store) Get(rawID any) (Document, error) {
	id, ok := CoerceID(rawID)
	if !ok {
		return nil, &ErrNotFound{}
	}
	var data string
	err := s.db.QueryRow("SELECT data FROM requests WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("request: get id=%d: %w", id, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("request: decode id=%d: %w", id, err)
	}
	doc["id"] = id
	return doc, nil
}

// ListAll returns every document ordered by id ascending. Used for full
// client resync.
func (s *Store) ListAll() ([]Document, error) {
	rows, err := s.db.Query("SELECT id, data FROM requests ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("request: list: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("request: list scan: %w", err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			s.logger.Error("request: corrupt document skipped", "id", id, "error", err)
			continue
		}
		doc["id"] = id
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Delete removes a document by id. Idempotent; reports whether a row was
// actually removed.
func (s *Store) Delete(rawID any) (bool, error) {
	id, ok := CoerceID(rawID)
	if !ok {
		return false, nil
	}
	res, err := s.db.Exec("DELETE FROM requests WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("request: delete id=%d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request: delete id=%d: %w", id, err)
	}
	return n > 0, nil
}

// Count reports the number of stored documents.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM requests").Scan(&n)
	return n, err
}

func marshalDocument(d Document) (string, error) {
	// Encoder with SetEscapeHTML(false) keeps Georgian/Cyrillic and
	// punctuation readable in the stored JSON.
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func decodeDocument(data string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
