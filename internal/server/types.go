// Package server provides the HTTP server for the upload service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"encoding/base64"
	"time"

	"github.com/maauso/streamupload/internal/batch"
	"github.com/maauso/streamupload/internal/pipeline"
)

// UploadQuery holds the query parameters of POST /uploads.
type UploadQuery struct {
	// Inline requests in-memory outputs as base64 in the response.
	Inline string `validate:"omitempty,boolean"`
}

// UploadResponse is the HTTP response describing one upload batch.
type UploadResponse struct {
	// ID is the unique identifier of the batch.
	ID string `json:"id"`
	// Status is the batch status.
	Status string `json:"status"`
	// Summary counts file outcomes.
	Summary batch.Summary `json:"summary"`
	// Fields groups file results by field name.
	Fields map[string][]FileResponse `json:"fields"`
	// Error contains the request-level error, if any.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the request was received.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when every file settled.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListResponse is the HTTP response of GET /uploads.
type ListResponse struct {
	Uploads []UploadResponse `json:"uploads"`
}

// FileResponse describes the outcome of one file.
type FileResponse struct {
	OriginalName  string                `json:"original_name"`
	Status        string                `json:"status"`
	ContentType   string                `json:"content_type"`
	OriginalSize  int64                 `json:"original_size"`
	ProcessedSize int64                 `json:"processed_size,omitempty"`
	Converted     bool                  `json:"converted"`
	Path          string                `json:"path,omitempty"`
	Remote        *RemoteResponse       `json:"remote,omitempty"`
	BufferSize    int                   `json:"buffer_size,omitempty"`
	BufferBase64  string                `json:"buffer_base64,omitempty"`
	Errors        []pipeline.StageError `json:"errors,omitempty"`
}

// RemoteResponse describes a remote object.
type RemoteResponse struct {
	Provider string `json:"provider"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// BatchID identifies the failed batch, when one was recorded.
	BatchID string `json:"batch_id,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// newUploadResponse maps a batch and its results. Results may carry
// in-memory outputs, which are reported by size or inlined as base64.
func newUploadResponse(b *batch.Batch, results pipeline.Results, inline bool) UploadResponse {
	resp := UploadResponse{
		ID:        b.ID,
		Status:    string(b.Status),
		Summary:   b.Summary,
		Fields:    make(map[string][]FileResponse, len(results)),
		Error:     b.Error,
		CreatedAt: b.CreatedAt,
	}
	if !b.CompletedAt.IsZero() {
		completed := b.CompletedAt
		resp.CompletedAt = &completed
	}

	for _, field := range results.Fields() {
		list := results[field]
		files := make([]FileResponse, 0, len(list))
		for _, r := range list {
			files = append(files, newFileResponse(r, inline))
		}
		resp.Fields[field] = files
	}
	return resp
}

func newFileResponse(r pipeline.Result, inline bool) FileResponse {
	f := FileResponse{
		OriginalName:  r.OriginalName,
		Status:        string(r.Status),
		ContentType:   r.ContentType,
		OriginalSize:  r.OriginalSize,
		ProcessedSize: r.ProcessedSize,
		Converted:     r.Converted,
		Path:          r.Path,
		BufferSize:    len(r.Buffer),
		Errors:        r.Errors,
	}
	if inline && r.Buffer != nil {
		f.BufferBase64 = base64.StdEncoding.EncodeToString(r.Buffer)
	}
	if r.Remote != nil {
		f.Remote = &RemoteResponse{
			Provider: r.Remote.Provider,
			Bucket:   r.Remote.Bucket,
			Key:      r.Remote.Key,
			URL:      r.Remote.URL,
			Size:     r.Remote.Size,
		}
	}
	return f
}
