package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/logctx"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// maxCorrelationIDLen bounds caller-supplied ids before they reach logs and
// the queue's correlation_id column.
const maxCorrelationIDLen = 64

// CorrelationID tags each request with an id taken from X-Correlation-ID,
// or a fresh UUID when the header is missing. The id is echoed back and a
// logger carrying it as request_id is put on the context, so enqueue and
// dispatch work started by a manual /dispatch call logs under the same id.
func CorrelationID(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Correlation-ID")
			if id == "" || len(id) > maxCorrelationIDLen {
				id = uuid.New().String()
			}
			ctx := context.WithValue(r.Context(), correlationIDKey, id)
			ctx = logctx.With(ctx, logger.With(zap.String("request_id", id)))
			w.Header().Set("X-Correlation-ID", id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID returns the id stored by CorrelationID, or "".
func GetCorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
