// Package logging builds the process logger on log/slog.
//
// The level is held in a slog.LevelVar so a configuration reload can
// change it without rebuilding loggers. A context handler adds the
// request ID placed in the context by the request ID middleware, and an
// optional redactor masks credential headers and bearer tokens.
//
// Example:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	logger.InfoContext(ctx, "listening", "addr", addr)
package logging
