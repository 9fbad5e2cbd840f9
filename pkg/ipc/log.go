package ipc

import "github.com/floeipc/floe/internal/logging"

var internalLogger = logging.Default

// SetLogLevel used to change the internal logger's level and the default
// level is Warning. The process env `FLOE_LOG_LEVEL` also could set log
// level.
func SetLogLevel(l int) {
	logging.SetLevel(l)
}
