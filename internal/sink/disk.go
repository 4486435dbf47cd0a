package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Disk writes the stream to a new file.
type Disk struct {
	mu   sync.Mutex
	f    *os.File
	path string
	done bool
}

// NewDisk creates dir if needed and opens dir/name for writing. An existing
// file is never overwritten.
func NewDisk(dir, name string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640) // #nosec G304 - name is generated
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &Disk{f: f, path: path}, nil
}

// Path returns the file being written.
func (d *Disk) Path() string {
	return d.path
}

// Write implements Sink.
func (d *Disk) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		return 0, ErrSinkClosed
	}
	n, err := d.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("write output file: %w", err)
	}
	return n, nil
}

// Commit closes the file and reports its size as seen by the filesystem.
// On failure the file is removed.
func (d *Disk) Commit(ctx context.Context) (Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		return Output{}, ErrSinkClosed
	}
	d.done = true

	select {
	case <-ctx.Done():
		d.discardLocked()
		return Output{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := d.f.Close(); err != nil {
		_ = os.Remove(d.path)
		return Output{}, fmt.Errorf("close output file: %w", err)
	}

	info, err := os.Stat(d.path)
	if err != nil {
		_ = os.Remove(d.path)
		return Output{}, fmt.Errorf("stat output file: %w", err)
	}

	return Output{
		Kind: KindDisk,
		Path: d.path,
		Size: info.Size(),
	}, nil
}

// Abort closes and removes the partially written file.
func (d *Disk) Abort() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		return nil
	}
	d.done = true
	return d.discardLocked()
}

func (d *Disk) discardLocked() error {
	_ = d.f.Close()
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove output file: %w", err)
	}
	return nil
}
