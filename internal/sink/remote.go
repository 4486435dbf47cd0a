package sink

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/maauso/streamupload/internal/spill"
	"github.com/maauso/streamupload/internal/storage"
	"github.com/maauso/streamupload/internal/tempfile"
)

// Remote stages the stream in a spill buffer and uploads it on Commit, so
// the provider always gets a seekable body of known size.
type Remote struct {
	provider storage.Provider
	obj      storage.Object
	buf      *spill.Buffer
	done     atomic.Bool
}

// NewRemote creates a remote sink that uploads obj through provider.
func NewRemote(provider storage.Provider, obj storage.Object, registry *tempfile.Registry, threshold int64) *Remote {
	return &Remote{
		provider: provider,
		obj:      obj,
		buf:      spill.New(registry, spill.WithThreshold(threshold), spill.WithPrefix("remote")),
	}
}

// Write implements Sink.
func (r *Remote) Write(p []byte) (int, error) {
	if r.done.Load() {
		return 0, ErrSinkClosed
	}
	n, err := r.buf.Write(p)
	if err != nil {
		return n, fmt.Errorf("stage upload: %w", err)
	}
	return n, nil
}

// Commit uploads the staged content. The staging buffer is released whether
// or not the upload succeeds.
func (r *Remote) Commit(ctx context.Context) (Output, error) {
	if !r.done.CompareAndSwap(false, true) {
		return Output{}, ErrSinkClosed
	}
	defer func() { _ = r.buf.Dispose() }()

	if err := r.buf.Close(); err != nil {
		return Output{}, fmt.Errorf("stage upload: %w", err)
	}

	body, err := r.buf.Open()
	if err != nil {
		return Output{}, fmt.Errorf("stage upload: %w", err)
	}
	defer func() { _ = body.Close() }()

	obj := r.obj
	obj.Size = r.buf.Size()

	loc, err := r.provider.Upload(ctx, obj, body)
	if err != nil {
		return Output{}, fmt.Errorf("upload %s: %w", obj.Key, err)
	}

	return Output{
		Kind:   KindRemote,
		Remote: &loc,
		Size:   loc.Size,
	}, nil
}

// Abort discards the staged content without uploading.
func (r *Remote) Abort() error {
	if !r.done.CompareAndSwap(false, true) {
		return nil
	}
	return r.buf.Dispose()
}
