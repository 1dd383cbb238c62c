package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/hpbatch/internal/errors"
	"github.com/3leaps/hpbatch/internal/observability"
	"github.com/3leaps/hpbatch/internal/server/handlers"
	"github.com/3leaps/hpbatch/pkg/monitor"
	"github.com/3leaps/hpbatch/pkg/scheduler"
	"github.com/3leaps/hpbatch/pkg/scheduler/schedtest"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestServer_NotFoundCarriesCallerRequestID(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/v2/summary", nil)
	req.Header.Set("X-Request-ID", "req-from-caller")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "req-from-caller", body.Error.RequestID)
	assert.Contains(t, body.Error.Message, "/v2/summary")
}

func TestServer_Port(t *testing.T) {
	for _, port := range []int{8080, 9000, 0} {
		srv := New("127.0.0.1", port)
		assert.Equal(t, port, srv.Port())
	}
	assert.Equal(t, "127.0.0.1:8080", New("127.0.0.1", 8080).Addr())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/version", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	handlers.InitHealthManager("test")

	client := schedtest.New()
	client.SetHistory(scheduler.JobRecord{ID: "7", Name: "hp_202201", State: scheduler.StateCompleted})
	metrics := observability.NewMetrics()

	srv := New("127.0.0.1", 0,
		WithSummary(monitor.New(client), "alice", monitor.DefaultPrefix),
		WithMetrics(metrics))

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version", "/v1/summary", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}

	t.Run("metrics reflect served summary", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Contains(t, rec.Body.String(), `hpbatch_jobs{class="completed",user="alice"} 1`)
	})
}

func TestServer_OptionalRoutesAbsent(t *testing.T) {
	srv := New("127.0.0.1", 0)

	for _, path := range []string{"/v1/summary", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestServer_RunAndShutdown(t *testing.T) {
	handlers.InitHealthManager("test")
	srv := New("127.0.0.1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, time.Second, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/health/live")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
