package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maauso/streamupload/internal/pipeline"
)

type resultsKey struct{}

// WithResults returns a copy of ctx carrying results.
func WithResults(ctx context.Context, results pipeline.Results) context.Context {
	return context.WithValue(ctx, resultsKey{}, results)
}

// FromContext returns the upload results attached by Middleware.
func FromContext(ctx context.Context) (pipeline.Results, bool) {
	rs, ok := ctx.Value(resultsKey{}).(pipeline.Results)
	return rs, ok
}

// ErrorWriter writes a request-level failure.
type ErrorWriter func(w http.ResponseWriter, status int, message, code string)

// Middleware runs Handle and calls next with the results attached to the
// request context. Per-file failures are part of the results; only
// request-level failures stop the chain, written with writeErr (a JSON body
// when nil).
func (in *Intake) Middleware(writeErr ErrorWriter) func(http.Handler) http.Handler {
	if writeErr == nil {
		writeErr = writeJSONError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			results, err := in.Handle(r)
			if err != nil {
				var ie *Error
				if !errors.As(err, &ie) {
					ie = newError(err)
				}
				in.logger.Warn("upload rejected",
					slog.String("code", ie.Code),
					slog.String("error", ie.Error()),
				)
				writeErr(w, ie.Status, ie.Error(), ie.Code)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithResults(r.Context(), results)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
