package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins lists the browser origins allowed to upload. "*"
	// allows any origin.
	AllowedOrigins []string
}

// DefaultConfig returns a Config that accepts uploads from any origin.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates the upload API router:
//
//	GET  /health        liveness
//	POST /uploads       stream a multipart request through the pipeline
//	GET  /uploads       list recorded batches, newest first
//	GET  /uploads/{id}  fetch one batch
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("POST /uploads", h.Upload())
	mux.HandleFunc("GET /uploads", h.ListUploads)
	mux.HandleFunc("GET /uploads/{id}", h.GetUpload)

	// Recovery is outermost so panics in logging or CORS are caught too.
	return ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)(mux)
}
