// Package batch provides the Batch aggregate recording the outcome of one
// upload request, with a status state machine and repository interfaces for
// persistence.
package batch

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/streamupload/internal/batch/id"
	"github.com/maauso/streamupload/internal/pipeline"
)

// Status represents the current state of a Batch.
type Status string

const (
	// StatusReceiving indicates the request body is still being read.
	StatusReceiving Status = "RECEIVING"
	// StatusProcessing indicates files are being delivered.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted indicates every file was delivered by its primary path.
	StatusCompleted Status = "COMPLETED"
	// StatusDegraded indicates some files fell back to their original bytes
	// and none failed.
	StatusDegraded Status = "DEGRADED"
	// StatusPartial indicates some, but not all, files failed.
	StatusPartial Status = "PARTIAL"
	// StatusFailed indicates every file failed.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusReceiving:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusDegraded, StatusPartial, StatusFailed},
	StatusCompleted:  {},
	StatusDegraded:   {},
	StatusPartial:    {},
	StatusFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome derives the terminal batch status from the results of a request.
// A request without files is complete.
func Outcome(results pipeline.Results) Status {
	total := results.Total()
	failed := results.Count(pipeline.StatusFailed)
	switch {
	case total > 0 && failed == total:
		return StatusFailed
	case failed > 0:
		return StatusPartial
	case results.Count(pipeline.StatusBackupSubstituted) > 0:
		return StatusDegraded
	}
	return StatusCompleted
}

// Summary counts file outcomes.
type Summary struct {
	Total       int `json:"total"`
	Succeeded   int `json:"succeeded"`
	Substituted int `json:"backup_substituted"`
	Failed      int `json:"failed"`
}

func summarize(results pipeline.Results) Summary {
	return Summary{
		Total:       results.Total(),
		Succeeded:   results.Count(pipeline.StatusSucceeded),
		Substituted: results.Count(pipeline.StatusBackupSubstituted),
		Failed:      results.Count(pipeline.StatusFailed),
	}
}

// Batch records one upload request.
type Batch struct {
	mu sync.RWMutex

	// ID is the unique identifier for this batch.
	ID string
	// Status is the current batch state.
	Status Status
	// Results holds the per-file outcomes grouped by field. In-memory
	// buffers are not retained.
	Results pipeline.Results
	// Summary counts the outcomes in Results.
	Summary Summary
	// Error describes a request-level failure.
	Error string
	// CreatedAt is when the batch was created.
	CreatedAt time.Time
	// UpdatedAt is when the batch was last updated.
	UpdatedAt time.Time
	// StartedAt is when delivery started.
	StartedAt time.Time
	// CompletedAt is when every file settled.
	CompletedAt time.Time
}

// New creates a new Batch with a generated ID and initial RECEIVING status.
func New() *Batch {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Batch with the specified ID and initial RECEIVING status.
func NewWithID(batchID string) *Batch {
	now := time.Now()
	return &Batch{
		ID:        batchID,
		Status:    StatusReceiving,
		Results:   pipeline.Results{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the batch status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (b *Batch) TransitionTo(status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transitionLocked(status)
}

func (b *Batch) transitionLocked(status Status) error {
	if !canTransition(b.Status, status) {
		return ErrInvalidTransition
	}

	b.Status = status
	b.UpdatedAt = time.Now()

	switch status {
	case StatusProcessing:
		b.StartedAt = b.UpdatedAt
	case StatusCompleted, StatusDegraded, StatusPartial, StatusFailed:
		b.CompletedAt = b.UpdatedAt
	}
	return nil
}

// Start transitions the batch from RECEIVING to PROCESSING.
func (b *Batch) Start() error {
	return b.TransitionTo(StatusProcessing)
}

// Settle records results and moves the batch to the status they imply.
func (b *Batch) Settle(results pipeline.Results) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transitionLocked(Outcome(results)); err != nil {
		return err
	}
	b.Results = stripBuffers(results)
	b.Summary = summarize(results)
	return nil
}

// Fail moves the batch to FAILED with a request-level error message.
func (b *Batch) Fail(errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transitionLocked(StatusFailed); err != nil {
		return err
	}
	b.Error = errMsg
	return nil
}

// GetStatus returns the current batch status (thread-safe).
func (b *Batch) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.Status
}

// IsTerminal returns true if the batch is in a terminal state.
func (b *Batch) IsTerminal() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(validTransitions[b.Status]) == 0
}

// Clone creates a deep copy of the batch for safe reads.
func (b *Batch) Clone() *Batch {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return &Batch{
		ID:          b.ID,
		Status:      b.Status,
		Results:     stripBuffers(b.Results),
		Summary:     b.Summary,
		Error:       b.Error,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
		StartedAt:   b.StartedAt,
		CompletedAt: b.CompletedAt,
	}
}

// stripBuffers copies results without in-memory output bytes.
func stripBuffers(results pipeline.Results) pipeline.Results {
	out := make(pipeline.Results, len(results))
	for field, list := range results {
		copied := make([]pipeline.Result, len(list))
		for i, r := range list {
			r.Buffer = nil
			r.Errors = append([]pipeline.StageError(nil), r.Errors...)
			copied[i] = r
		}
		out[field] = copied
	}
	return out
}
