package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Logger emits one structured line per completed request, carrying the
// final status and wall time.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggedWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lw.status,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// loggedWriter captures the status code; handlers that never call
// WriteHeader log the implicit 200.
type loggedWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggedWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}
