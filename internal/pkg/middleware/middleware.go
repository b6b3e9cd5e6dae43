package middleware

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
	"github.com/tablearena/tablearena/internal/pkg/logger"
	"github.com/tablearena/tablearena/internal/pkg/security"
)

// Recovery catches panics and returns a sanitized 500 instead of crashing.
func Recovery(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithContext(r.Context()).Error("Panic recovered in HTTP handler",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
				)
				apperrors.WriteError(w, apperrors.New(apperrors.CodeInternal, "handler panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS adds cross-origin headers. origins is a comma-separated allow list
// or "*".
func CORS(next http.Handler, origins string) http.Handler {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowed["*"]:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Logging logs each request and attaches a request ID to its context.
// An incoming X-Request-ID is reused.
func Logging(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if !security.ValidRequestID(requestID) {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logger.ContextWithRequestID(r.Context(), requestID))

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		reqLog := log.WithContext(r.Context())
		if wrapped.status >= http.StatusInternalServerError {
			reqLog.Warn("HTTP request failed",
				"method", r.Method,
				"path", security.SanitizeForLog(r.URL.Path),
				"status", wrapped.status,
				"duration", time.Since(start),
				"headers", security.MaskSensitiveHeaders(r.Header),
			)
			return
		}
		reqLog.Debug("HTTP request",
			"method", r.Method,
			"path", security.SanitizeForLog(r.URL.Path),
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// statusWriter captures the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// InFlight tracks active HTTP requests for graceful shutdown.
type InFlight struct {
	count atomic.Int64
}

// Middleware counts requests while they are being served.
func (f *InFlight) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.count.Add(1)
		defer f.count.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// Count returns the number of requests being served.
func (f *InFlight) Count() int64 {
	return f.count.Load()
}

// Drain waits until no request is in flight or timeout elapses. It returns
// true if every request completed.
func (f *InFlight) Drain(timeout time.Duration, log *logger.Logger) bool {
	deadline := time.Now().Add(timeout)
	lastReport := time.Now()

	for {
		count := f.count.Load()
		if count == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if time.Since(lastReport) >= 5*time.Second {
			log.Info("Draining in-flight requests", "remaining", count)
			lastReport = time.Now()
		}
		time.Sleep(50 * time.Millisecond)
	}
}
