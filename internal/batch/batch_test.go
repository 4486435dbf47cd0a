package batch

import (
	"errors"
	"testing"

	"github.com/maauso/streamupload/internal/pipeline"
)

func TestNew(t *testing.T) {
	b := New()

	if b.ID == "" {
		t.Error("expected batch to have an ID")
	}
	if b.Status != StatusReceiving {
		t.Errorf("expected status %s, got %s", StatusReceiving, b.Status)
	}
	if b.CreatedAt.IsZero() || b.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if b.Results == nil {
		t.Error("expected Results to be initialized")
	}
}

func TestBatch_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"RECEIVING to PROCESSING", StatusReceiving, StatusProcessing, false},
		{"RECEIVING to FAILED", StatusReceiving, StatusFailed, false},
		{"PROCESSING to COMPLETED", StatusProcessing, StatusCompleted, false},
		{"PROCESSING to DEGRADED", StatusProcessing, StatusDegraded, false},
		{"PROCESSING to PARTIAL", StatusProcessing, StatusPartial, false},
		{"PROCESSING to FAILED", StatusProcessing, StatusFailed, false},

		{"RECEIVING to COMPLETED", StatusReceiving, StatusCompleted, true},
		{"PROCESSING to RECEIVING", StatusProcessing, StatusReceiving, true},
		{"COMPLETED to FAILED", StatusCompleted, StatusFailed, true},
		{"DEGRADED to PROCESSING", StatusDegraded, StatusProcessing, true},
		{"FAILED to COMPLETED", StatusFailed, StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewWithID("test")
			b.Status = tt.from

			err := b.TransitionTo(tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
				if b.Status != tt.from {
					t.Errorf("status changed to %s on rejected transition", b.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Status != tt.to {
				t.Errorf("expected status %s, got %s", tt.to, b.Status)
			}
		})
	}
}

func TestBatch_Timestamps(t *testing.T) {
	b := New()
	if err := b.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
	if b.IsTerminal() {
		t.Error("PROCESSING must not be terminal")
	}

	if err := b.Settle(pipeline.Results{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
	if !b.IsTerminal() {
		t.Error("expected terminal state")
	}
}

func results(statuses ...pipeline.Status) pipeline.Results {
	rs := pipeline.Results{}
	for _, s := range statuses {
		rs["files"] = append(rs["files"], pipeline.Result{Field: "files", Status: s})
	}
	return rs
}

func TestOutcome(t *testing.T) {
	ok, sub, bad := pipeline.StatusSucceeded, pipeline.StatusBackupSubstituted, pipeline.StatusFailed

	tests := []struct {
		name    string
		results pipeline.Results
		want    Status
	}{
		{"no files", pipeline.Results{}, StatusCompleted},
		{"all succeeded", results(ok, ok), StatusCompleted},
		{"substituted", results(ok, sub), StatusDegraded},
		{"one failed", results(ok, sub, bad), StatusPartial},
		{"all failed", results(bad, bad), StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outcome(tt.results); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBatch_Settle(t *testing.T) {
	b := New()
	_ = b.Start()

	rs := pipeline.Results{
		"avatar": {{Field: "avatar", Status: pipeline.StatusSucceeded, Buffer: []byte("image")}},
		"docs": {
			{Field: "docs", Status: pipeline.StatusBackupSubstituted},
			{Field: "docs", Status: pipeline.StatusFailed},
		},
	}
	if err := b.Settle(rs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Status != StatusPartial {
		t.Errorf("expected status %s, got %s", StatusPartial, b.Status)
	}
	want := Summary{Total: 3, Succeeded: 1, Substituted: 1, Failed: 1}
	if b.Summary != want {
		t.Errorf("expected summary %+v, got %+v", want, b.Summary)
	}
	if b.Results["avatar"][0].Buffer != nil {
		t.Error("expected buffers to be dropped")
	}
	if rs["avatar"][0].Buffer == nil {
		t.Error("caller's results must not be modified")
	}

	if err := b.Settle(rs); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second settle, got %v", err)
	}
}

func TestBatch_Fail(t *testing.T) {
	b := New()
	if err := b.Fail("unknown upload field"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != StatusFailed || b.Error != "unknown upload field" {
		t.Errorf("unexpected batch state: %s %q", b.Status, b.Error)
	}
}

func TestBatch_Clone(t *testing.T) {
	b := New()
	_ = b.Start()
	_ = b.Settle(results(pipeline.StatusSucceeded))

	clone := b.Clone()
	if clone.ID != b.ID || clone.Status != b.Status || clone.Summary != b.Summary {
		t.Error("clone does not match original")
	}

	clone.Results["files"][0].OriginalName = "changed"
	if b.Results["files"][0].OriginalName == "changed" {
		t.Error("modifying clone should not affect original")
	}
}
