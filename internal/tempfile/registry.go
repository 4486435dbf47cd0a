// Package tempfile tracks the temporary files created while uploads are in
// flight. Spill and backup buffers register every file before writing to it,
// so the host can remove whatever is left on shutdown with DrainAll.
package tempfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxCreateAttempts bounds retries when a generated name already exists.
const maxCreateAttempts = 3

// Registry is a process-wide set of temporary file paths.
// It is safe for concurrent use by multiple pipelines.
type Registry struct {
	mu    sync.Mutex
	dir   string
	paths map[string]struct{}
}

// NewRegistry creates a Registry whose files live under dir.
// If dir is empty, a "streamupload" subdirectory of os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewRegistry(dir string) (*Registry, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "streamupload")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &Registry{
		dir:   dir,
		paths: make(map[string]struct{}),
	}, nil
}

// Dir returns the directory temporary files are created in.
func (r *Registry) Dir() string {
	return r.dir
}

// Create registers a new unique path and then creates the file.
// Registration happens first so a crash between the two steps cannot
// leave a file on disk that DrainAll does not know about.
func (r *Registry) Create(prefix string) (*os.File, error) {
	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		path := filepath.Join(r.dir, tempName(prefix))
		r.Add(path)

		// #nosec G304 - path is generated above, not user input
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err == nil {
			return f, nil
		}
		r.Forget(path)
		lastErr = err
		if !errors.Is(err, os.ErrExist) {
			break
		}
	}
	return nil, fmt.Errorf("create temp file: %w", lastErr)
}

// Add registers path.
func (r *Registry) Add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path] = struct{}{}
}

// Forget unregisters path without touching the filesystem.
func (r *Registry) Forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

// Remove deletes path from disk and unregisters it.
// A file that is already gone is not an error.
func (r *Registry) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file %s: %w", path, err)
	}
	r.Forget(path)
	return nil
}

// Len returns the number of tracked paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Paths returns a sorted snapshot of the tracked paths.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DrainAll removes every tracked file. Files do not need to have been
// closed by their owners. It continues past failures and returns the
// first error encountered; paths that could not be removed stay tracked.
func (r *Registry) DrainAll() error {
	var firstErr error
	for _, p := range r.Paths() {
		if err := r.Remove(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// tempName builds a collision-resistant file name from a timestamp and a
// random component.
func tempName(prefix string) string {
	if prefix == "" {
		prefix = "spill"
	}
	return fmt.Sprintf("%s-%d-%s.tmp", prefix, time.Now().UnixNano(), uuid.NewString()[:8])
}
