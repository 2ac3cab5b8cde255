package httputil

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
	"github.com/go-chi/chi/v5/middleware"
)

// probePaths are polled by the orchestrator platform and logged at debug level.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// RequestLoggerMiddleware stores a request-scoped logger carrying the request
// id in the context and logs one line per request. Server errors log at error
// level and client errors at warn.
func RequestLoggerMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base.With("request_id", middleware.GetReqID(r.Context()))
			ctx := ctxlog.WithLogger(r.Context(), logger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := statusOf(ww)
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			}
			if subject := GetSubject(r.Context()); subject != "" {
				attrs = append(attrs, "subject", subject)
			}

			logger.Log(context.Background(), requestLogLevel(r.URL.Path, status), "http request", attrs...)
		})
	}
}

func requestLogLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case probePaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
