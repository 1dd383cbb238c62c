package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/hpbatch/internal/errors"
)

func TestRecovery_NoPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	rec := httptest.NewRecorder()
	Recovery(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestRecovery_WithPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		Recovery(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "INTERNAL_ERROR", response.Error.Code)
	assert.Contains(t, response.Error.Message, "panic: test panic")
}

func TestRecovery_WithPanicError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(assert.AnError)
	})

	rec := httptest.NewRecorder()
	Recovery(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "INTERNAL_ERROR", response.Error.Code)
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		Recovery(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))
	})
}

func TestRecovery_WithRequestID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic with request id")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, "test-req-123")
	rec := httptest.NewRecorder()

	RequestID(Recovery(handler)).ServeHTTP(rec, req)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "test-req-123", response.Error.RequestID)
	assert.Equal(t, "test-req-123", rec.Header().Get(RequestIDHeader))
}

func TestRequestID_Generated(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = apperrors.RequestIDFrom(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestErrorHandler_IsSameAsRecovery(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test")
	})

	rec1 := httptest.NewRecorder()
	Recovery(handler).ServeHTTP(rec1, httptest.NewRequest("GET", "/test", nil))

	rec2 := httptest.NewRecorder()
	ErrorHandler(handler).ServeHTTP(rec2, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, rec1.Code, rec2.Code)
	assert.Equal(t, rec1.Header().Get("Content-Type"), rec2.Header().Get("Content-Type"))
}

func TestLogger_PassesThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	Logger(zap.NewNop())(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name          string
		envelope      *errors.ErrorEnvelope
		statusCode    int
		wantCode      string
		wantMsg       string
		wantRequestID string
	}{
		{
			name:       "basic error",
			envelope:   errors.NewErrorEnvelope("TEST_ERROR", "test message"),
			statusCode: http.StatusBadRequest,
			wantCode:   "TEST_ERROR",
			wantMsg:    "test message",
		},
		{
			name:       "internal error",
			envelope:   errors.NewErrorEnvelope(apperrors.CodeInternal, "something went wrong"),
			statusCode: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
			wantMsg:    "something went wrong",
		},
		{
			name: "correlation id becomes request id",
			envelope: errors.NewErrorEnvelope(apperrors.CodeNotFound, "run not found").
				WithCorrelationID("corr-123"),
			statusCode:    http.StatusNotFound,
			wantCode:      "NOT_FOUND",
			wantMsg:       "run not found",
			wantRequestID: "corr-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeErrorResponse(rec, tt.envelope, tt.statusCode)

			assert.Equal(t, tt.statusCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
			assert.Equal(t, tt.wantCode, response.Error.Code)
			assert.Equal(t, tt.wantMsg, response.Error.Message)
			assert.Equal(t, tt.wantRequestID, response.Error.RequestID)
		})
	}
}

func TestWriteErrorResponse_WithContext(t *testing.T) {
	envelope, err := errors.NewErrorEnvelope(apperrors.CodeSchedulerUnavailable, "squeue failed").
		WithContext(map[string]interface{}{
			"op":   "list_active",
			"user": "alice",
		})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	writeErrorResponse(rec, envelope, http.StatusServiceUnavailable)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.NotNil(t, response.Error.Details)
	assert.Equal(t, "list_active", response.Error.Details["op"])
	assert.Equal(t, "alice", response.Error.Details["user"])
}
