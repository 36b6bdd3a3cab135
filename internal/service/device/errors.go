package device

import "errors"

// errUnknownLogLevel is returned for log levels zap does not know.
var errUnknownLogLevel = errors.New("unknown log level")
