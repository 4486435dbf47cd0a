package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrOutsideRoot is returned for an output directory that leaves the
// project root.
var ErrOutsideRoot = errors.New("sink: output directory escapes project root")

// Resolver maps configured output directories onto the filesystem.
//
// A directory starting with a path separator is read as relative to the
// project root, not the filesystem root. The first such directory is logged
// once per Resolver.
type Resolver struct {
	root   string
	logger *slog.Logger
	once   sync.Once
}

// NewResolver creates a Resolver rooted at root. An empty root means the
// current working directory.
func NewResolver(root string, logger *slog.Logger) *Resolver {
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{root: filepath.Clean(root), logger: logger}
}

// Root returns the project root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the directory path to write into. It fails with
// ErrOutsideRoot when dir climbs above the project root.
func (r *Resolver) Resolve(dir string) (string, error) {
	rel := filepath.FromSlash(dir)
	if strings.HasPrefix(rel, string(filepath.Separator)) {
		r.once.Do(func() {
			r.logger.Warn("output directory starts with a separator, resolving it under the project root",
				slog.String("dir", dir),
				slog.String("root", r.root),
			)
		})
		rel = strings.TrimLeft(rel, string(filepath.Separator))
	}

	joined := filepath.Join(r.root, rel)
	back, err := filepath.Rel(r.root, joined)
	if err != nil || escapes(back) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, dir)
	}
	return joined, nil
}

// CheckDir reports whether dir stays inside the project root once resolved.
func CheckDir(dir string) error {
	rel := strings.TrimLeft(filepath.FromSlash(dir), string(filepath.Separator))
	if escapes(filepath.Clean(rel)) {
		return fmt.Errorf("%w: %q", ErrOutsideRoot, dir)
	}
	return nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
