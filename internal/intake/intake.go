// Package intake reads multipart uploads and hands every file part to the
// pipeline, enforcing the per-file size cap and the set of known fields.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/maauso/streamupload/internal/pipeline"
)

// DefaultContentType is used for parts that declare no content type.
const DefaultContentType = "application/octet-stream"

// Static errors for request intake.
var (
	// ErrFileTooLarge is returned when a file exceeds the per-file size cap.
	ErrFileTooLarge = errors.New("file exceeds size limit")
	// ErrUnknownField is returned for a file part whose field is not configured.
	ErrUnknownField = errors.New("unknown upload field")
	// ErrNotMultipart is returned when the request body is not multipart.
	ErrNotMultipart = errors.New("request is not multipart/form-data")
	// ErrMalformedBody is returned when the multipart body cannot be parsed.
	ErrMalformedBody = errors.New("malformed multipart body")
)

// Error is a request-level intake failure.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(err error) *Error {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return &Error{Status: http.StatusRequestEntityTooLarge, Code: "FILE_TOO_LARGE", Err: err}
	case errors.Is(err, ErrUnknownField):
		return &Error{Status: http.StatusBadRequest, Code: "UNKNOWN_FIELD", Err: err}
	case errors.Is(err, ErrNotMultipart):
		return &Error{Status: http.StatusUnsupportedMediaType, Code: "NOT_MULTIPART", Err: err}
	}
	return &Error{Status: http.StatusBadRequest, Code: "MALFORMED_BODY", Err: err}
}

// Processor runs the pipeline of one file.
type Processor interface {
	Process(ctx context.Context, field pipeline.Field, file pipeline.File) (*pipeline.Future, error)
}

// Intake reads upload requests. It is safe for concurrent use.
type Intake struct {
	processor   Processor
	fields      map[string]pipeline.Field
	maxFileSize int64
	logger      *slog.Logger
}

// Option configures an Intake.
type Option func(*Intake)

// WithMaxFileSize sets the per-file size cap in bytes. Zero or less
// disables the cap.
func WithMaxFileSize(n int64) Option {
	return func(in *Intake) {
		in.maxFileSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Intake) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// New creates an Intake accepting files for fields.
func New(processor Processor, fields []pipeline.Field, opts ...Option) *Intake {
	in := &Intake{
		processor: processor,
		fields:    make(map[string]pipeline.Field, len(fields)),
		logger:    slog.Default(),
	}
	for _, f := range fields {
		in.fields[f.Name] = f
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Field returns the configuration of a known field.
func (in *Intake) Field(name string) (pipeline.Field, bool) {
	f, ok := in.fields[name]
	return f, ok
}

// Handle reads every part of r, runs a pipeline per file part and returns
// the grouped results once all files are settled. Non-file parts are
// skipped. A request-level failure is returned as *Error after the files
// already started have settled.
func (in *Intake) Handle(r *http.Request) (pipeline.Results, error) {
	ctx := r.Context()

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, newError(fmt.Errorf("%w: %w", ErrNotMultipart, err))
	}

	agg := pipeline.NewAggregator()
	if err := in.readParts(ctx, mr, agg); err != nil {
		// In-flight pipelines still own temp files; let them settle.
		settled, werr := agg.Collect(ctx)
		if werr != nil {
			in.logger.Warn("abandoned in-flight files", slog.String("error", werr.Error()))
		}
		in.rollback(context.WithoutCancel(ctx), settled)
		return nil, newError(err)
	}

	return agg.Collect(ctx)
}

// rollback removes the disk and remote outputs of files that completed
// before the request was rejected.
func (in *Intake) rollback(ctx context.Context, results pipeline.Results) {
	for name, rs := range results {
		field := in.fields[name]
		for _, r := range rs {
			if r.Failed() {
				continue
			}
			var err error
			switch {
			case r.Path != "":
				err = os.Remove(r.Path)
			case r.Remote != nil && field.Target.Provider != nil:
				err = field.Target.Provider.Delete(ctx, r.Remote.Key)
			default:
				continue
			}
			if err != nil {
				in.logger.Warn("failed to remove output of rejected request",
					slog.String("field", name),
					slog.String("file", r.OriginalName),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (in *Intake) readParts(ctx context.Context, mr *multipart.Reader, agg *pipeline.Aggregator) error {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedBody, err)
		}

		if part.FileName() == "" {
			_ = part.Close()
			continue
		}

		field, ok := in.fields[part.FormName()]
		if !ok {
			_ = part.Close()
			return fmt.Errorf("%w: %q", ErrUnknownField, part.FormName())
		}

		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = DefaultContentType
		}

		fut, err := in.processor.Process(ctx, field, pipeline.File{
			Field:       field.Name,
			Name:        part.FileName(),
			ContentType: contentType,
			Body:        newLimitReader(part, in.maxFileSize),
		})
		if fut != nil {
			agg.Track(field.Name, fut)
		}
		_ = part.Close()
		if err != nil {
			if errors.Is(err, ErrFileTooLarge) {
				return fmt.Errorf("%w: %s", err, part.FileName())
			}
			return fmt.Errorf("%w: %w", ErrMalformedBody, err)
		}
	}
}

// limitReader fails with ErrFileTooLarge once more than max bytes are read.
type limitReader struct {
	r    io.Reader
	max  int64
	read int64
}

func newLimitReader(r io.Reader, limit int64) io.Reader {
	if limit <= 0 {
		return r
	}
	return &limitReader{r: r, max: limit}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.read > l.max {
		return 0, ErrFileTooLarge
	}
	if remaining := l.max - l.read + 1; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.max {
		return n, ErrFileTooLarge
	}
	return n, err
}
