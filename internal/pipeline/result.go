package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maauso/streamupload/internal/spill"
	"github.com/maauso/streamupload/internal/storage"
)

// ErrBackupExhausted marks the failure of the single retry from backup content.
var ErrBackupExhausted = errors.New("backup delivery failed")

// Status is the outcome of one file.
type Status string

const (
	// StatusSucceeded means the primary path delivered the file.
	StatusSucceeded Status = "succeeded"
	// StatusBackupSubstituted means the original bytes were delivered after
	// the primary path failed.
	StatusBackupSubstituted Status = "backup_substituted"
	// StatusFailed means the file has no usable output.
	StatusFailed Status = "failed"
)

// state returns the terminal pipeline state for s.
func (s Status) state() State {
	switch s {
	case StatusSucceeded:
		return StateSucceeded
	case StatusBackupSubstituted:
		return StateBackupSubstituted
	}
	return StateFailed
}

// Stage names the part of a pipeline that raised an error.
type Stage string

const (
	// StageReceive covers reading the upload stream.
	StageReceive Stage = "receive"
	// StageStaging covers the local buffer holding the primary copy.
	StageStaging Stage = "staging"
	// StageConversion covers the converter.
	StageConversion Stage = "conversion"
	// StageSink covers writing and committing the primary output.
	StageSink Stage = "sink"
	// StageFallback covers the retry from backup content.
	StageFallback Stage = "fallback"
)

// StageError records an error raised by one stage.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func newStageError(stage Stage, err error) StageError {
	return StageError{Stage: stage, Message: err.Error(), Err: err}
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e StageError) Unwrap() error {
	return e.Err
}

// classify attributes an error from the primary path to a stage. Errors
// from the staged source always belong to the receive stage.
func classify(err error, fallback Stage) Stage {
	var srcErr *spill.SourceError
	if errors.As(err, &srcErr) || errors.Is(err, spill.ErrDisposed) {
		return StageReceive
	}
	return fallback
}

// Result is the immutable outcome of one file.
type Result struct {
	Field         string            `json:"field"`
	OriginalName  string            `json:"original_name"`
	Status        Status            `json:"status"`
	ContentType   string            `json:"content_type"`
	OriginalSize  int64             `json:"original_size"`
	ProcessedSize int64             `json:"processed_size,omitempty"`
	Converted     bool              `json:"converted"`
	Buffer        []byte            `json:"-"`
	Path          string            `json:"path,omitempty"`
	Remote        *storage.Location `json:"remote,omitempty"`
	Errors        []StageError      `json:"errors,omitempty"`
}

// Succeeded reports whether the primary path delivered the file.
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Substituted reports whether backup content was delivered.
func (r Result) Substituted() bool {
	return r.Status == StatusBackupSubstituted
}

// Failed reports whether the file has no usable output.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// HasStage reports whether stage raised one of the recorded errors.
func (r Result) HasStage(stage Stage) bool {
	for _, e := range r.Errors {
		if e.Stage == stage {
			return true
		}
	}
	return false
}

// Future is the single completion of one file's pipeline.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete stores r and releases waiters. Only the first call has any
// effect; it reports whether this call completed the future.
func (f *Future) complete(r Result) bool {
	completed := false
	f.once.Do(func() {
		f.result = r
		completed = true
		close(f.done)
	})
	return completed
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}
