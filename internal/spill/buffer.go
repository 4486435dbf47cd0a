// Package spill provides a byte buffer that holds an incoming stream in memory
// up to a threshold and transparently moves it to a temporary file beyond that.
//
// A Buffer has one producer (Write / Close / CloseWithError) and any number of
// follow readers created with NewReader. Readers observe bytes as soon as they
// are written and block until more data arrives or the producer closes the
// buffer, so downstream stages can run while the upload is still arriving.
package spill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/maauso/streamupload/internal/tempfile"
)

// DefaultThreshold is the in-memory limit before a buffer spills to disk.
const DefaultThreshold int64 = 5 << 20

// Static errors for buffer operations.
var (
	// ErrClosed is returned when writing to a buffer that was already closed.
	ErrClosed = errors.New("spill: write to closed buffer")
	// ErrDisposed is returned by readers of a buffer whose content was released.
	ErrDisposed = errors.New("spill: buffer disposed")
	// ErrIncomplete is returned when complete content is requested before Close.
	ErrIncomplete = errors.New("spill: buffer still receiving")
	// ErrReaderClosed is returned by Read after the reader was closed.
	ErrReaderClosed = errors.New("spill: reader closed")
)

// SourceError wraps the error the producer closed the buffer with.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source stream failed: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithThreshold sets the number of bytes kept in memory before spilling.
// Negative values are ignored.
func WithThreshold(n int64) Option {
	return func(b *Buffer) {
		if n >= 0 {
			b.threshold = n
		}
	}
}

// WithPrefix sets the name prefix of the temporary file.
func WithPrefix(prefix string) Option {
	return func(b *Buffer) {
		b.prefix = prefix
	}
}

// Buffer is a threshold spill buffer. See the package documentation.
type Buffer struct {
	registry  *tempfile.Registry
	threshold int64
	prefix    string

	mu       sync.Mutex
	cond     *sync.Cond
	mem      []byte
	file     *os.File // write handle while receiving
	path     string   // backing file, empty once removed
	spilled  bool
	size     int64
	closed   bool
	err      error
	disposed bool
	done     chan struct{}
}

// New creates an empty Buffer. Temporary files are created through registry.
func New(registry *tempfile.Registry, opts ...Option) *Buffer {
	b := &Buffer{
		registry:  registry,
		threshold: DefaultThreshold,
		prefix:    "spill",
		done:      make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Write appends p. When the total would exceed the threshold, the bytes held
// in memory are flushed to a new temporary file before p is written to it.
// Writes after Dispose are discarded.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return len(p), nil
	}
	if b.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if !b.spilled && b.size+int64(len(p)) > b.threshold {
		if err := b.spillLocked(); err != nil {
			b.finishLocked(err)
			b.releaseLocked()
			return 0, err
		}
	}

	if b.spilled {
		if _, err := b.file.Write(p); err != nil {
			err = fmt.Errorf("write spill file: %w", err)
			b.finishLocked(err)
			b.releaseLocked()
			return 0, err
		}
	} else {
		b.mem = append(b.mem, p...)
	}

	b.size += int64(len(p))
	b.cond.Broadcast()
	return len(p), nil
}

// spillLocked moves the in-memory bytes into a new registered temp file.
func (b *Buffer) spillLocked() error {
	f, err := b.registry.Create(b.prefix)
	if err != nil {
		return fmt.Errorf("spill to disk: %w", err)
	}
	b.file = f
	b.path = f.Name()
	b.spilled = true

	if len(b.mem) > 0 {
		if _, err := f.Write(b.mem); err != nil {
			return fmt.Errorf("flush buffered bytes: %w", err)
		}
	}
	b.mem = nil
	return nil
}

// Close marks the end of the stream.
func (b *Buffer) Close() error {
	return b.CloseWithError(nil)
}

// CloseWithError ends the stream. A non-nil err discards everything buffered
// so far, removes the temp file, and makes readers fail with a SourceError.
func (b *Buffer) CloseWithError(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.disposed {
		return nil
	}

	if err != nil {
		b.finishLocked(&SourceError{Err: err})
		return b.releaseLocked()
	}

	if b.file != nil {
		cerr := b.file.Close()
		b.file = nil
		if cerr != nil {
			b.finishLocked(fmt.Errorf("close spill file: %w", cerr))
			b.releaseLocked()
			return cerr
		}
	}
	b.finishLocked(nil)
	return nil
}

// finishLocked records the terminal state exactly once.
func (b *Buffer) finishLocked(err error) {
	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	close(b.done)
	b.cond.Broadcast()
}

// releaseLocked drops the in-memory bytes and deletes the backing file.
func (b *Buffer) releaseLocked() error {
	b.mem = nil
	if b.file != nil {
		_ = b.file.Close()
		b.file = nil
	}
	if b.path == "" {
		return nil
	}
	path := b.path
	b.path = ""
	return b.registry.Remove(path)
}

// Dispose releases the buffer's memory and temp file. Readers fail with
// ErrDisposed afterwards and later writes are discarded. It is safe to call
// more than once.
func (b *Buffer) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return nil
	}
	b.disposed = true
	b.finishLocked(nil)
	err := b.releaseLocked()
	b.cond.Broadcast()
	return err
}

// Done is closed once the producer has finished, successfully or not.
func (b *Buffer) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the producer has finished and returns its error.
func (b *Buffer) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.Err()
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

// Err returns the error the buffer finished with, if any.
func (b *Buffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Size returns the number of bytes accepted so far.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Spilled reports whether the buffer moved to disk.
func (b *Buffer) Spilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spilled
}

// Path returns the backing temp file, or "" when the content is in memory
// or has been released.
func (b *Buffer) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// completeLocked checks that the content is final and still available.
func (b *Buffer) completeLocked() error {
	switch {
	case b.disposed:
		return ErrDisposed
	case !b.closed:
		return ErrIncomplete
	case b.err != nil:
		return b.err
	}
	return nil
}

// Bytes returns the complete content. For an in-memory buffer the returned
// slice is shared and must not be modified.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	if err := b.completeLocked(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	if !b.spilled {
		mem := b.mem
		b.mu.Unlock()
		if mem == nil {
			mem = []byte{}
		}
		return mem, nil
	}
	path := b.path
	b.mu.Unlock()

	data, err := os.ReadFile(path) // #nosec G304 - path is a registered temp file
	if err != nil {
		return nil, fmt.Errorf("read spill file: %w", err)
	}
	return data, nil
}

// Open returns an independent, seekable view of the complete content.
// The caller is responsible for closing it.
func (b *Buffer) Open() (io.ReadSeekCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.completeLocked(); err != nil {
		return nil, err
	}
	if !b.spilled {
		return nopCloser{bytes.NewReader(b.mem)}, nil
	}

	f, err := os.Open(b.path) // #nosec G304 - path is a registered temp file
	if err != nil {
		return nil, fmt.Errorf("open spill file: %w", err)
	}
	return f, nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// NewReader returns a follow reader positioned at the first byte.
func (b *Buffer) NewReader() *Reader {
	return &Reader{b: b}
}

// Reader streams a Buffer's content from the start, blocking while the
// producer is still writing. Read and Close may be called from different
// goroutines; Close unblocks a pending Read.
type Reader struct {
	b      *Buffer
	off    int64
	f      *os.File // guarded by b.mu
	closed bool     // guarded by b.mu
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b := r.b
	b.mu.Lock()
	for {
		if err := r.stateLocked(); err != nil {
			b.mu.Unlock()
			return 0, err
		}
		if r.off < b.size {
			break
		}
		if b.closed {
			b.mu.Unlock()
			return 0, io.EOF
		}
		b.cond.Wait()
	}

	if avail := b.size - r.off; int64(len(p)) > avail {
		p = p[:avail]
	}

	if !b.spilled {
		n := copy(p, b.mem[r.off:])
		r.off += int64(n)
		b.mu.Unlock()
		return n, nil
	}

	if r.f == nil {
		f, err := os.Open(b.path) // #nosec G304 - path is a registered temp file
		if err != nil {
			b.mu.Unlock()
			return 0, fmt.Errorf("open spill file: %w", err)
		}
		r.f = f
	}
	f := r.f
	b.mu.Unlock()

	n, err := f.ReadAt(p, r.off)
	r.off += int64(n)
	if n == len(p) {
		err = nil
	}
	return n, err
}

// stateLocked reports why the reader cannot make progress, if it cannot.
func (r *Reader) stateLocked() error {
	switch {
	case r.closed:
		return ErrReaderClosed
	case r.b.disposed:
		return ErrDisposed
	case r.b.err != nil:
		return r.b.err
	}
	return nil
}

// Close releases the reader. It does not affect the buffer or other readers.
func (r *Reader) Close() error {
	b := r.b
	b.mu.Lock()
	if r.closed {
		b.mu.Unlock()
		return nil
	}
	r.closed = true
	f := r.f
	r.f = nil
	b.cond.Broadcast()
	b.mu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}
