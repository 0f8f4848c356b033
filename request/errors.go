package request

import "fmt"

// ErrNotFound is returned when an operation targets a request id with no
// backing row. Save returns it instead of falling back to an insert, so a
// transient or malformed id can never silently clone a record.
type ErrNotFound struct {
	ID int64
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("request: not found: id=%d", e.ID)
}
