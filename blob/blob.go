// Package blob stores request attachments on the filesystem, addressed by
// request id + filename. Layout: <root>/request_<id>/<filename>, with a
// legacy task_<id> fallback on reads.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is a filesystem-backed attachment store.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Put writes an attachment and returns its public URL path.
func (s *Store) Put(requestID, filename string, data []byte) (string, error) {
	name := Sanitize(filename)
	if requestID == "" || name == "" {
		return "", &ErrBadName{Filename: filename}
	}
	dir := filepath.Join(s.root, "request_"+requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("blob: mkdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write %s: %w", name, err)
	}
	return "/files/request_" + requestID + "/" + name, nil
}

// Get reads an attachment, checking the request_<id> directory and then the
// legacy task_<id> one. Returns *ErrNotFound when neither holds the file.
func (s *Store) Get(requestID, filename string) ([]byte, error) {
	name := Sanitize(filename)
	if requestID == "" || name == "" {
		return nil, &ErrBadName{Filename: filename}
	}
	for _, prefix := range []string{"request_", "task_"} {
		data, err := os.ReadFile(filepath.Join(s.root, prefix+requestID, name))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("blob: read %s: %w", name, err)
		}
	}
	return nil, &ErrNotFound{RequestID: requestID, Filename: name}
}

// Root returns the store's base directory, for mounting a file server.
func (s *Store) Root() string { return s.root }

// Sanitize strips path separators from a client-supplied filename so it can
// never escape its request directory.
func Sanitize(filename string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(filename)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
