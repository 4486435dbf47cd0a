// Package tee duplicates one upload stream into a primary and a backup
// spill buffer.
//
// A single reader task pulls chunks from the source and hands each chunk to
// two bounded channels. Each channel is drained by its own writer into a
// spill.Buffer, and the buffers never wait on their consumers, so a slow
// primary consumer cannot stall the backup capture or the other way round.
package tee

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/maauso/streamupload/internal/spill"
)

// Default tuning values.
const (
	DefaultChunkSize = 32 << 10
	DefaultDepth     = 8
)

// Option configures a Tee.
type Option func(*Tee)

// WithChunkSize sets the size of the chunks read from the source.
func WithChunkSize(n int) Option {
	return func(t *Tee) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// WithDepth sets how many chunks each branch may queue.
func WithDepth(n int) Option {
	return func(t *Tee) {
		if n > 0 {
			t.depth = n
		}
	}
}

// Tee fans one source out to two spill buffers.
type Tee struct {
	primary   *spill.Buffer
	backup    *spill.Buffer
	chunkSize int
	depth     int
}

// New creates a Tee writing into primary and backup.
func New(primary, backup *spill.Buffer, opts ...Option) *Tee {
	t := &Tee{
		primary:   primary,
		backup:    backup,
		chunkSize: DefaultChunkSize,
		depth:     DefaultDepth,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run copies src into both buffers until EOF, an error, or ctx is done, and
// closes both buffers. It returns the number of bytes read from src.
//
// On a source error both buffers are closed with that error, which discards
// their content and removes any temp file they created. A failure in one
// branch's buffer does not stop the other branch.
func (t *Tee) Run(ctx context.Context, src io.Reader) (int64, error) {
	primaryCh := make(chan []byte, t.depth)
	backupCh := make(chan []byte, t.depth)

	var wg sync.WaitGroup
	wg.Add(2)
	go drain(&wg, t.primary, primaryCh)
	go drain(&wg, t.backup, backupCh)

	n, readErr := t.pump(ctx, src, primaryCh, backupCh)
	close(primaryCh)
	close(backupCh)
	wg.Wait()

	if readErr != nil {
		_ = t.primary.CloseWithError(readErr)
		_ = t.backup.CloseWithError(readErr)
		return n, readErr
	}

	perr := t.primary.Close()
	berr := t.backup.Close()
	return n, errors.Join(perr, berr)
}

// pump reads from src and sends every chunk to both branches.
func (t *Tee) pump(ctx context.Context, src io.Reader, primaryCh, backupCh chan<- []byte) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("context cancelled: %w", err)
		}

		// Each chunk gets its own backing array: both branches hold it.
		buf := make([]byte, t.chunkSize)
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			total += int64(n)
			if serr := send(ctx, primaryCh, chunk); serr != nil {
				return total, serr
			}
			if serr := send(ctx, backupCh, chunk); serr != nil {
				return total, serr
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func send(ctx context.Context, ch chan<- []byte, chunk []byte) error {
	select {
	case ch <- chunk:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

// drain writes queued chunks into buf. After a write error the remaining
// chunks are discarded so the pump never blocks on a failed branch.
func drain(wg *sync.WaitGroup, buf *spill.Buffer, ch <-chan []byte) {
	defer wg.Done()
	var failed bool
	for chunk := range ch {
		if failed {
			continue
		}
		if _, err := buf.Write(chunk); err != nil {
			failed = true
		}
	}
}
