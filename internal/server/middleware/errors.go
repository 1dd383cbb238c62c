// Package middleware holds the HTTP middleware shared by every route.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/hpbatch/internal/errors"
	"github.com/3leaps/hpbatch/internal/observability"
)

// RequestIDHeader is read from requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// ErrorResponse is the body written for recovered panics. It matches
// apperrors.HTTPErrorResponse on the wire.
type ErrorResponse = apperrors.HTTPErrorResponse

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(apperrors.WithRequestID(r.Context(), id)))
	})
}

// Recovery turns a handler panic into a 500 INTERNAL_ERROR response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := apperrors.RequestIDFrom(r.Context())
			observability.CLILogger.Error("Recovered from handler panic",
				zap.Any("panic", rec),
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.ByteString("stack", debug.Stack()))

			envelope := errors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec))
			if requestID != "" {
				envelope = envelope.WithCorrelationID(requestID)
			}
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name used by older routers.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// Logger logs one debug line per request.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", apperrors.RequestIDFrom(r.Context())))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int) {
	apperrors.WriteEnvelope(w, envelope, status)
}
