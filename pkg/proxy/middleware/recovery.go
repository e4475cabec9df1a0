package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/llmtap/pkg/proxy"
)

// RecoveryMiddleware turns a handler panic into a 500 JSON error and logs
// the stack. http.ErrAbortHandler is re-raised so the server aborts the
// connection as intended.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logger.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				_ = proxy.WriteErrorResponse(w, proxy.HandleError(nil))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
