package health

import "errors"

// ErrCheckTimeout is reported for a check that outlived its timeout.
var ErrCheckTimeout = errors.New("health check timeout")
