package apitest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/upstream/internal/logging"
)

// Request is one call the fake server handled.
type Request struct {
	Method    string
	Path      string
	Status    int
	RequestID string // X-Request-ID sent by the client, as seen by chi
	Duration  time.Duration
}

// Requests returns every request handled so far, in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// recordRequests logs each request and keeps it for later inspection.
//
// Log fields:
//   - method: HTTP method
//   - path: Request URL path
//   - status: HTTP response status code
//   - duration_ms: Request processing time in milliseconds
func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		reqID := middleware.GetReqID(r.Context())
		logging.FromContext(logging.ContextWithRequestID(r.Context(), reqID)).Debug("fake upstream request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", duration.Milliseconds(),
		)

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    ww.status,
			RequestID: reqID,
			Duration:  duration,
		})
		s.mu.Unlock()
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
