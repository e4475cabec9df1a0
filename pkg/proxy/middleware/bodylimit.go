package middleware

import (
	"fmt"
	"net/http"

	"mercator-hq/llmtap/pkg/proxy"
)

// BodyLimitMiddleware rejects request bodies larger than maxBytes with
// 413. A declared Content-Length is checked up front; other bodies are
// wrapped in http.MaxBytesReader and fail when read past the limit.
// A non-positive maxBytes disables the limit.
func BodyLimitMiddleware(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				_ = proxy.WriteErrorResponse(w, proxy.HandleError(&proxy.RequestError{
					Message: fmt.Sprintf("request body of %d bytes exceeds the %d byte limit", r.ContentLength, maxBytes),
					Status:  http.StatusRequestEntityTooLarge,
				}))
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
