package blob

import "fmt"

// ErrNotFound is returned when no stored attachment matches the request id
// and filename.
type ErrNotFound struct {
	RequestID string
	Filename  string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("blob: not found: request %s, file %s", e.RequestID, e.Filename)
}

// ErrBadName is returned for an empty or purely-traversal filename.
type ErrBadName struct {
	Filename string
}

func (e *ErrBadName) Error() string {
	return fmt.Sprintf("blob: bad filename: %q", e.Filename)
}
