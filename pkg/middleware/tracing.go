package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const TraceHeader = "X-Trace-Id"

type traceKey struct{}

// TraceMiddleware automatically generates or extracts trace IDs from requests
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		w.Header().Set(TraceHeader, traceID)
		ctx := context.WithValue(r.Context(), traceKey{}, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTraceID retrieves the trace ID from the request context.
func GetTraceID(r *http.Request) string {
	return TraceIDFrom(r.Context())
}

func TraceIDFrom(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceKey{}).(string); ok {
		return traceID
	}
	return ""
}
