// Package middleware provides the HTTP middleware in front of the
// forwarder and the admin endpoints.
//
// The server composes them with Chain, outermost first:
//
//	RecoveryMiddleware -> RequestIDMiddleware -> LoggingMiddleware -> BodyLimitMiddleware
//
// The request ID middleware comes before logging so every log line of a
// request, including the completion line, carries its request_id.
package middleware
