// Package pipeline drives one uploaded file from its byte stream to a sink.
//
// For every file the Controller stages the upload in a spill buffer (two,
// split by a tee, when backup is enabled), optionally streams it through the
// converter, and delivers it to the field's sink. When the primary path
// fails and a backup copy exists, the original bytes are delivered once to a
// fresh sink of the same kind. Each file completes exactly once with an
// immutable Result, which the Aggregator groups by field.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maauso/streamupload/internal/convert"
	"github.com/maauso/streamupload/internal/sink"
	"github.com/maauso/streamupload/internal/spill"
	"github.com/maauso/streamupload/internal/tee"
	"github.com/maauso/streamupload/internal/tempfile"
)

// Field is the resolved, read-only configuration of one form field.
type Field struct {
	Name string
	// Target is the destination of every file of this field.
	Target sink.Target
	// Format is the conversion target. Empty keeps the original format.
	Format convert.Format
	// Quality is the encoder quality in [1,100]. Zero means the default.
	Quality int
	// KeepOriginal skips conversion.
	KeepOriginal bool
	// RequireConversion fails images the converter cannot decode instead of
	// passing them through.
	RequireConversion bool
	// Backup tees every upload into a backup copy used if the primary path fails.
	Backup bool
}

func (f Field) wantsConversion() bool {
	return f.Format != "" && !f.KeepOriginal
}

func (f Field) quality() int {
	if f.Quality == 0 {
		return convert.DefaultQuality
	}
	return f.Quality
}

// File is one uploaded file. Body is consumed by Process and must not be
// read elsewhere.
type File struct {
	Field       string
	Name        string
	ContentType string
	Body        io.Reader
}

// Controller runs file pipelines. It is safe for concurrent use; files never
// share mutable state except the temp registry.
type Controller struct {
	converter convert.Converter
	sinks     *sink.Factory
	registry  *tempfile.Registry
	threshold int64
	teeOpts   []tee.Option
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithSpillThreshold sets the memory limit of staging buffers.
func WithSpillThreshold(n int64) Option {
	return func(c *Controller) {
		c.threshold = n
	}
}

// WithTeeOptions configures the backup tee.
func WithTeeOptions(opts ...tee.Option) Option {
	return func(c *Controller) {
		c.teeOpts = append(c.teeOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates a Controller. A nil converter passes every file
// through unmodified.
func NewController(converter convert.Converter, sinks *sink.Factory, registry *tempfile.Registry, opts ...Option) *Controller {
	c := &Controller{
		converter: converter,
		sinks:     sinks,
		registry:  registry,
		threshold: spill.DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run is the per-file state shared by the receiving and delivering sides.
type run struct {
	field   Field
	file    File
	convert bool
	state   *tracker
	future  *Future
	primary *spill.Buffer
	backup  *spill.Buffer
	logger  *slog.Logger
}

// receipt is what the receiving side reports to the delivering side.
type receipt struct {
	size int64
	err  error
}

// Process runs the pipeline of one file. It consumes file.Body before
// returning, while delivery proceeds concurrently; the returned Future
// completes when the file reaches a terminal state.
//
// The returned error is the upload stream's own read error, if any. The
// file's Result records it too, so callers only need it to decide whether
// the rest of the request can still be read.
func (c *Controller) Process(ctx context.Context, field Field, file File) (*Future, error) {
	r := &run{
		field:  field,
		file:   file,
		future: newFuture(),
		logger: c.logger.With(
			slog.String("field", field.Name),
			slog.String("file", file.Name),
		),
	}
	r.state = newTracker(r.logger)

	if field.wantsConversion() && convert.IsImage(file.ContentType) {
		switch {
		case c.converter != nil && c.converter.CanDecode(file.ContentType):
			r.convert = true
		case field.RequireConversion:
			err := fmt.Errorf("%w: %s", convert.ErrUnsupportedFormat, file.ContentType)
			c.finish(r, Result{
				Status: StatusFailed,
				Errors: []StageError{newStageError(StageConversion, err)},
			})
			return r.future, nil
		}
	}

	if err := r.state.to(StateReceiving); err != nil {
		return nil, err
	}

	r.primary = spill.New(c.registry, spill.WithThreshold(c.threshold), spill.WithPrefix("upload"))
	if field.Backup {
		r.backup = spill.New(c.registry, spill.WithThreshold(c.threshold), spill.WithPrefix("backup"))
	}

	received := make(chan receipt, 1)
	go c.deliver(ctx, r, received)

	size, err := c.receive(ctx, r)
	received <- receipt{size: size, err: err}
	return r.future, err
}

// receive copies the upload into the staging buffers and closes them. The
// returned size counts every byte read from the upload, even when a staging
// buffer gave up early.
func (c *Controller) receive(ctx context.Context, r *run) (int64, error) {
	src := &sourceReader{ctx: ctx, r: r.file.Body}

	if r.backup == nil {
		_, err := io.Copy(r.primary, src)
		if src.err != nil {
			_ = r.primary.CloseWithError(src.err)
			return src.n, src.err
		}
		if err != nil {
			// The buffer already failed; the rest of the upload is only counted.
			_, _ = io.Copy(io.Discard, src)
			return src.n, src.err
		}
		_ = r.primary.Close()
		return src.n, nil
	}

	n, err := tee.New(r.primary, r.backup, c.teeOpts...).Run(ctx, src)
	if src.err != nil {
		return n, src.err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return n, err
	}
	return n, nil
}

// deliver streams the primary buffer to the sink and settles the outcome.
func (c *Controller) deliver(ctx context.Context, r *run, received <-chan receipt) {
	contentType := r.file.ContentType
	ext := ""
	if r.convert {
		contentType = r.field.Format.ContentType()
		ext = r.field.Format.Extension()
	}
	name := OutputName(r.field.Name, r.file.Name, convert.IsImage(r.file.ContentType), ext)

	next := StatePassThrough
	if r.convert {
		next = StateConverting
	}
	_ = r.state.to(next)

	out, stageErr := c.stream(ctx, r, name, contentType)
	_ = r.state.to(StateDelivering)

	// Bytes still arriving after a failure are discarded.
	_ = r.primary.Dispose()
	rc := <-received
	if rc.err != nil && stageErr != nil {
		se := newStageError(StageReceive, rc.err)
		stageErr = &se
	}

	res := Result{
		ContentType:  r.file.ContentType,
		OriginalSize: rc.size,
	}

	if stageErr == nil {
		res.Status = StatusSucceeded
		res.ContentType = contentType
		res.Converted = r.convert
		if r.convert {
			res.ProcessedSize = out.Size
		}
		setOutput(&res, out)
		if r.backup != nil {
			_ = r.backup.Dispose()
		}
		c.finish(r, res)
		return
	}

	res.Errors = append(res.Errors, *stageErr)
	if r.backup == nil || stageErr.Stage == StageReceive {
		res.Status = StatusFailed
		if r.backup != nil {
			_ = r.backup.Dispose()
		}
		c.finish(r, res)
		return
	}

	out, err := c.fallback(ctx, r)
	_ = r.backup.Dispose()
	if err != nil {
		res.Status = StatusFailed
		res.Errors = append(res.Errors, newStageError(StageFallback, fmt.Errorf("%w: %w", ErrBackupExhausted, err)))
		c.finish(r, res)
		return
	}

	res.Status = StatusBackupSubstituted
	setOutput(&res, out)
	c.finish(r, res)
}

// stream moves the primary buffer through the optional converter into a
// new sink and commits it. On failure the sink is aborted.
func (c *Controller) stream(ctx context.Context, r *run, name, contentType string) (sink.Output, *StageError) {
	s, err := c.sinks.New(r.field.Target, name, contentType)
	if err != nil {
		se := newStageError(StageSink, err)
		return sink.Output{}, &se
	}

	src := r.primary.NewReader()
	defer func() { _ = src.Close() }()

	fail := func(stage Stage, err error) (sink.Output, *StageError) {
		_ = s.Abort()
		if upstream, ok := upstreamStage(r.primary); ok {
			stage = upstream
		}
		se := newStageError(classify(err, stage), err)
		return sink.Output{}, &se
	}

	w := &sinkWriter{w: s}
	if r.convert {
		opts := convert.Options{Format: r.field.Format, Quality: r.field.quality()}
		converted, err := c.converter.Convert(ctx, src, opts)
		if err != nil {
			return fail(StageConversion, err)
		}
		_, err = io.Copy(w, converted)
		_ = converted.Close()
		if err != nil {
			if w.err != nil {
				return fail(StageSink, err)
			}
			return fail(StageConversion, err)
		}
	} else {
		if _, err := io.Copy(w, src); err != nil {
			if w.err != nil {
				return fail(StageSink, err)
			}
			return fail(StageStaging, err)
		}
	}

	out, err := s.Commit(ctx)
	if err != nil {
		return fail(StageSink, err)
	}
	return out, nil
}

// fallback delivers the backup's original bytes to a fresh sink of the
// field's destination kind.
func (c *Controller) fallback(ctx context.Context, r *run) (sink.Output, error) {
	if err := r.backup.Wait(ctx); err != nil {
		return sink.Output{}, err
	}
	if r.backup.Size() == 0 {
		return sink.Output{}, errors.New("backup is empty")
	}

	name := OutputName(r.field.Name, r.file.Name, convert.IsImage(r.file.ContentType), "")
	s, err := c.sinks.New(r.field.Target, name, r.file.ContentType)
	if err != nil {
		return sink.Output{}, err
	}

	body, err := r.backup.Open()
	if err != nil {
		_ = s.Abort()
		return sink.Output{}, err
	}
	defer func() { _ = body.Close() }()

	if _, err := io.Copy(s, body); err != nil {
		_ = s.Abort()
		return sink.Output{}, err
	}
	return s.Commit(ctx)
}

// finish records the terminal state and completes the future.
func (c *Controller) finish(r *run, res Result) {
	res.Field = r.field.Name
	res.OriginalName = r.file.Name
	if res.ContentType == "" {
		res.ContentType = r.file.ContentType
	}

	if err := r.state.to(res.Status.state()); err != nil {
		r.logger.Error("invalid terminal transition",
			slog.String("state", string(r.state.get())),
			slog.String("status", string(res.Status)),
		)
	}
	if !r.future.complete(res) {
		return
	}

	switch res.Status {
	case StatusSucceeded:
		r.logger.Debug("file delivered",
			slog.Int64("original_size", res.OriginalSize),
			slog.Int64("processed_size", res.ProcessedSize),
		)
	case StatusBackupSubstituted:
		r.logger.Warn("primary path failed, delivered backup copy",
			slog.String("error", res.Errors[0].Message),
		)
	default:
		attrs := make([]any, 0, len(res.Errors))
		for _, e := range res.Errors {
			attrs = append(attrs, slog.String(string(e.Stage), e.Message))
		}
		r.logger.Error("file failed", attrs...)
	}
}

func setOutput(res *Result, out sink.Output) {
	switch out.Kind {
	case sink.KindMemory:
		res.Buffer = out.Buffer
	case sink.KindDisk:
		res.Path = out.Path
	case sink.KindRemote:
		res.Remote = out.Remote
	}
}

// upstreamStage names the stage to blame when the primary buffer has
// finished with an error: the upload stream when the buffer was closed with
// the source's error, the buffer itself otherwise.
func upstreamStage(b *spill.Buffer) (Stage, bool) {
	select {
	case <-b.Done():
	default:
		return "", false
	}

	err := b.Err()
	if err == nil {
		return "", false
	}
	var srcErr *spill.SourceError
	if errors.As(err, &srcErr) {
		return StageReceive, true
	}
	return StageStaging, true
}

// sourceReader counts the upload stream and records its own read error.
// It stops at the first read after ctx is done.
type sourceReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		s.err = fmt.Errorf("context cancelled: %w", err)
		return 0, s.err
	}
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}

// sinkWriter records errors raised by the sink.
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}
