// Package errors renders application errors for HTTP clients.
//
// Errors are carried as gofulmen error envelopes and rendered on the wire as:
//
//	{"error": {"code": "NOT_FOUND", "message": "...", "request_id": "...", "details": {...}}}
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	fulerrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/hpbatch/pkg/scheduler"
)

// Error codes used in HTTP responses.
const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeSchedulerUnavailable = "SCHEDULER_UNAVAILABLE"
	CodeSchedulerTimeout     = "SCHEDULER_TIMEOUT"
	CodeInternal             = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the wire form of an error envelope. RequestID is the
// envelope's correlation id and Details its context.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPError is an error that knows its HTTP status and response code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewBadRequest reports a client mistake such as a malformed parameter.
func NewBadRequest(message string) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message}
}

func NewNotFound(message string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func NewMethodNotAllowed(message string) *HTTPError {
	return &HTTPError{Status: http.StatusMethodNotAllowed, Code: CodeMethodNotAllowed, Message: message}
}

// NewServiceUnavailable reports that this service cannot answer right now.
func NewServiceUnavailable(message string, details map[string]any) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// WrapInternal hides err behind a generic 500. The original error is kept
// for logging via Unwrap.
func WrapInternal(err error, message string) *HTTPError {
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// FromError maps any error to an HTTPError. Scheduler errors keep their
// classification; everything else becomes an internal error.
func FromError(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case scheduler.IsTimeout(err):
		return &HTTPError{Status: http.StatusGatewayTimeout, Code: CodeSchedulerTimeout, Message: "scheduler query timed out", Err: err}
	case scheduler.IsUnavailable(err):
		return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeSchedulerUnavailable, Message: "scheduler is unavailable", Err: err}
	case scheduler.IsQueryError(err):
		return &HTTPError{Status: http.StatusBadGateway, Code: CodeSchedulerUnavailable, Message: err.Error(), Err: err}
	}
	return WrapInternal(err, "internal server error")
}

// Envelope converts e into an error envelope correlated with requestID.
func (e *HTTPError) Envelope(requestID string) *fulerrors.ErrorEnvelope {
	env := fulerrors.NewErrorEnvelope(e.Code, e.Message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// RespondWithError writes err as an error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	he := FromError(err)
	requestID := ""
	if r != nil {
		requestID = RequestIDFrom(r.Context())
	}
	WriteEnvelope(w, he.Envelope(requestID), he.Status)
}

// WriteEnvelope renders env as an HTTPErrorResponse with the given status.
func WriteEnvelope(w http.ResponseWriter, env *fulerrors.ErrorEnvelope, status int) {
	WriteJSON(w, status, HTTPErrorResponse{Error: ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Details:   env.Context,
	}})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id stored by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
