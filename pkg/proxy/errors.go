package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// Error type constants used in JSON error bodies.
const (
	ErrorTypeInvalidRequest      = "invalid_request_error"
	ErrorTypeRequestTooLarge     = "request_too_large"
	ErrorTypeUpstreamUnavailable = "upstream_unavailable"
	ErrorTypeUpstreamTimeout     = "upstream_timeout"
	ErrorTypeServerError         = "server_error"
)

// ErrorResponse is the JSON body written for proxy-generated errors.
// Upstream error responses are relayed untouched and never use it.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one proxy error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	// Status is the HTTP status the error was written with.
	Status int `json:"-"`
}

// UpstreamUnavailableError is returned when the upstream produced no
// response head: connection refused, DNS failure, timeout before headers.
type UpstreamUnavailableError struct {
	URL   string
	Cause error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.URL, e.Cause)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Cause
}

// UpstreamBodyError is returned when the upstream failed after the head
// was received.
type UpstreamBodyError struct {
	URL   string
	Cause error
}

func (e *UpstreamBodyError) Error() string {
	return fmt.Sprintf("upstream %s body failed: %v", e.URL, e.Cause)
}

func (e *UpstreamBodyError) Unwrap() error {
	return e.Cause
}

// DownstreamWriteError is returned when writing to the client failed or
// the client went away. The upstream fetch is cancelled.
type DownstreamWriteError struct {
	Cause error
}

func (e *DownstreamWriteError) Error() string {
	return fmt.Sprintf("downstream write failed: %v", e.Cause)
}

func (e *DownstreamWriteError) Unwrap() error {
	return e.Cause
}

// ProtocolViolation describes a frame that could not be interpreted.
// Violations are logged and counted; they never interrupt forwarding.
type ProtocolViolation struct {
	Mode   string
	Reason string
	Cause  error
}

func (e *ProtocolViolation) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol violation (%s): %s: %v", e.Mode, e.Reason, e.Cause)
	}
	return fmt.Sprintf("protocol violation (%s): %s", e.Mode, e.Reason)
}

func (e *ProtocolViolation) Unwrap() error {
	return e.Cause
}

// RequestError is a problem with the incoming request itself.
type RequestError struct {
	Message string
	Status  int
}

func (e *RequestError) Error() string {
	return e.Message
}

// HandleError maps an error to the response written before any upstream
// bytes reached the client.
func HandleError(err error) *ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		typ := ErrorTypeInvalidRequest
		if reqErr.Status == http.StatusRequestEntityTooLarge {
			typ = ErrorTypeRequestTooLarge
		}
		return newErrorResponse(reqErr.Message, typ, reqErr.Status)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newErrorResponse("upstream request timed out", ErrorTypeUpstreamTimeout, http.StatusGatewayTimeout)
	}

	var unavailable *UpstreamUnavailableError
	if errors.As(err, &unavailable) {
		return newErrorResponse(unavailable.Error(), ErrorTypeUpstreamUnavailable, http.StatusBadGateway)
	}

	var bodyErr *UpstreamBodyError
	if errors.As(err, &bodyErr) {
		return newErrorResponse(bodyErr.Error(), ErrorTypeUpstreamUnavailable, http.StatusBadGateway)
	}

	return newErrorResponse("An internal error occurred.", ErrorTypeServerError, http.StatusInternalServerError)
}

func newErrorResponse(message, typ string, status int) *ErrorResponse {
	return &ErrorResponse{Error: ErrorDetail{Message: message, Type: typ, Status: status}}
}

// WriteErrorResponse writes errResp as JSON with its status code.
func WriteErrorResponse(w http.ResponseWriter, errResp *ErrorResponse) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errResp.Error.Status)
	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		return fmt.Errorf("failed to encode error response: %w", err)
	}
	return nil
}
