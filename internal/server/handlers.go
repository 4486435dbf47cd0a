package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/streamupload/internal/batch"
	"github.com/maauso/streamupload/internal/intake"
	"github.com/maauso/streamupload/internal/pipeline"
)

// BatchService records upload batches.
type BatchService interface {
	Begin(ctx context.Context) (*batch.Batch, error)
	Complete(ctx context.Context, b *batch.Batch, results pipeline.Results) error
	Abort(ctx context.Context, b *batch.Batch, reason string) error
	Get(ctx context.Context, id string) (*batch.Batch, error)
	List(ctx context.Context) ([]*batch.Batch, error)
}

// Compile-time check that batch.Service implements BatchService.
var _ BatchService = (*batch.Service)(nil)

type batchKey struct{}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	batches   BatchService
	intake    *intake.Intake
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(batches BatchService, in *intake.Intake, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		batches:   batches,
		intake:    in,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Upload returns the POST /uploads handler: it opens a batch, streams the
// multipart body through the intake middleware and settles the batch.
func (h *Handlers) Upload() http.Handler {
	complete := http.HandlerFunc(h.CompleteUpload)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := UploadQuery{Inline: r.URL.Query().Get("inline")}
		if err := h.validator.Struct(query); err != nil {
			writeError(w, http.StatusBadRequest, "inline must be a boolean", "VALIDATION_ERROR")
			return
		}

		b, err := h.batches.Begin(r.Context())
		if err != nil {
			h.logger.Error("failed to create batch",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create batch", "BATCH_CREATION_FAILED")
			return
		}
		w.Header().Set(BatchIDHeader, b.ID)

		rejected := func(w http.ResponseWriter, status int, message, code string) {
			if err := h.batches.Abort(context.WithoutCancel(r.Context()), b, message); err != nil {
				h.logger.Error("failed to record rejected batch",
					slog.String("batch_id", b.ID),
					slog.String("error", err.Error()),
				)
			}
			writeJSON(w, status, ErrorResponse{Error: message, Code: code, BatchID: b.ID})
		}

		ctx := context.WithValue(r.Context(), batchKey{}, b)
		h.intake.Middleware(rejected)(complete).ServeHTTP(w, r.WithContext(ctx))
	})
}

// CompleteUpload settles the batch opened by Upload with the results
// attached by the intake middleware.
func (h *Handlers) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	b, ok := r.Context().Value(batchKey{}).(*batch.Batch)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no batch for request", "MISSING_BATCH")
		return
	}
	results, ok := intake.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "no upload results for request", "MISSING_RESULTS")
		return
	}

	if err := h.batches.Complete(r.Context(), b, results); err != nil {
		h.logger.Error("failed to settle batch",
			slog.String("batch_id", b.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to record batch", "BATCH_UPDATE_FAILED")
		return
	}

	inline, _ := strconv.ParseBool(r.URL.Query().Get("inline"))
	writeJSON(w, http.StatusOK, newUploadResponse(b.Clone(), results, inline))
}

// GetUpload handles GET /uploads/{id} requests.
func (h *Handlers) GetUpload(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "batch ID is required", "MISSING_BATCH_ID")
		return
	}

	found, err := h.batches.Get(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, batch.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "batch not found", "BATCH_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get batch",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get batch", "BATCH_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newUploadResponse(found, found.Results, false))
}

// ListUploads handles GET /uploads requests.
func (h *Handlers) ListUploads(w http.ResponseWriter, r *http.Request) {
	batches, err := h.batches.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list batches",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list batches", "BATCH_LIST_FAILED")
		return
	}

	resp := ListResponse{Uploads: make([]UploadResponse, 0, len(batches))}
	for _, b := range batches {
		resp.Uploads = append(resp.Uploads, newUploadResponse(b, b.Results, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
