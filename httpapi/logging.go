package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

const requestIDHeader = "X-Request-Id"

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

type sessionLookupFunc func(*http.Request) (email schema.Email, sessionID string)

// withRequestLogging tags every request with an id and logs one line per
// response. Health probes log at debug.
func withRequestLogging(next http.Handler, lookup sessionLookupFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		logger := logx.WithRequest(pslog.Ctx(r.Context()), requestID)
		r = r.WithContext(pslog.ContextWithLogger(r.Context(), logger))

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", sw.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", clientIP(r),
		}
		if row := r.URL.Query().Get("row"); row != "" {
			fields = append(fields, "row", row)
		}
		if lookup != nil {
			if email, sessionID := lookup(r); email != "" {
				logger = logx.WithSession(logger.With("reviewer", string(email)), sessionID)
			}
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Warn("http request", fields...)
		case strings.HasSuffix(r.URL.Path, "/health"):
			logger.Debug("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return r.RemoteAddr
}
