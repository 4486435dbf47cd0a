// Package sink provides the terminal consumers of a processed file stream:
// an in-memory accumulator, a disk file writer and a remote upload.
//
// Every sink accepts ordered writes and completes exactly once, through
// Commit (success with an Output, or failure) or Abort (no visible output).
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/maauso/streamupload/internal/spill"
	"github.com/maauso/streamupload/internal/storage"
	"github.com/maauso/streamupload/internal/tempfile"
)

// Static errors for sink operations.
var (
	// ErrSinkClosed is returned when a sink is used after Commit or Abort.
	ErrSinkClosed = errors.New("sink: already completed")
	// ErrUnknownKind is returned for a destination kind outside the known set.
	ErrUnknownKind = errors.New("sink: unknown destination kind")
	// ErrNoProvider is returned when a remote sink is requested without a provider.
	ErrNoProvider = errors.New("sink: remote destination has no provider")
	// ErrInvalidName is returned when an output name is empty or is a path.
	ErrInvalidName = errors.New("sink: invalid output name")
)

// Kind is a destination kind.
type Kind string

// Destination kinds.
const (
	KindMemory Kind = "memory"
	KindDisk   Kind = "disk"
	KindRemote Kind = "remote"
)

// ParseKind validates a destination kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMemory, KindDisk, KindRemote:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Output is where a committed sink left the content. Exactly one of Buffer,
// Path and Remote is set, matching Kind.
type Output struct {
	Kind   Kind
	Buffer []byte
	Path   string
	Remote *storage.Location
	Size   int64
}

// Sink is a terminal consumer of a byte stream.
type Sink interface {
	// Write appends p to the output.
	Write(p []byte) (int, error)

	// Commit finalizes the output and reports where it is. It may be called
	// once; later calls return ErrSinkClosed.
	Commit(ctx context.Context) (Output, error)

	// Abort discards everything written so far. It is a no-op after Commit.
	Abort() error
}

// Target selects the destination of a new sink.
type Target struct {
	Kind Kind

	// Dir is the output directory of a disk sink, resolved by the factory.
	Dir string

	// Provider and Prefix configure a remote sink. Object keys are Prefix
	// joined with the output name.
	Provider storage.Provider
	Prefix   string
}

// Factory builds sinks. It is safe for concurrent use.
type Factory struct {
	registry  *tempfile.Registry
	resolver  *Resolver
	threshold int64
	logger    *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithSpillThreshold sets the memory limit of remote sink staging buffers.
func WithSpillThreshold(n int64) FactoryOption {
	return func(f *Factory) {
		f.threshold = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFactory creates a Factory. Remote sinks stage their input through
// registry; disk directories are resolved with resolver.
func NewFactory(registry *tempfile.Registry, resolver *Resolver, opts ...FactoryOption) *Factory {
	f := &Factory{
		registry:  registry,
		resolver:  resolver,
		threshold: spill.DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New creates a sink for one output named name.
func (f *Factory) New(t Target, name, contentType string) (Sink, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	switch t.Kind {
	case KindMemory:
		return NewMemory(), nil
	case KindDisk:
		dir, err := f.resolver.Resolve(t.Dir)
		if err != nil {
			f.logger.Warn("rejected disk output directory",
				slog.String("dir", t.Dir),
				slog.String("root", f.resolver.Root()),
			)
			return nil, err
		}
		d, err := NewDisk(dir, name)
		if err != nil {
			f.logger.Warn("failed to open disk output",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		return d, nil
	case KindRemote:
		if t.Provider == nil {
			return nil, ErrNoProvider
		}
		obj := storage.Object{
			Key:         objectKey(t.Prefix, name),
			ContentType: contentType,
			Size:        -1,
		}
		f.logger.Debug("staging remote output",
			slog.String("provider", t.Provider.Name()),
			slog.String("key", obj.Key),
		)
		return NewRemote(t.Provider, obj, f.registry, f.threshold), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
}

func objectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
