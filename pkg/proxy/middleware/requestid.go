package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"mercator-hq/llmtap/pkg/telemetry/logging"
)

// RequestIDHeader carries the request ID to and from clients.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds client-supplied IDs.
const maxRequestIDLength = 128

// RequestIDMiddleware assigns every request an ID. A well-formed ID sent
// by the client in X-Request-ID is kept; otherwise a UUID is generated.
// The ID is stored in the request context, where the logger picks it up.
// The response is left alone: forwarded responses carry exactly the
// upstream's headers, which often include an X-Request-Id of their own.
//
// The request header is forwarded upstream like every other header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}

// EchoRequestID sets the X-Request-ID response header from the ID that
// RequestIDMiddleware stored in the context. It wraps handlers that
// produce their own responses, never the forwarder.
func EchoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := logging.GetRequestID(r.Context()); id != "" {
			w.Header().Set(RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
