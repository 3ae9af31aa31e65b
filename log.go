package milter

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

// Logger returns the [slog.Logger] this library logs to. It defaults to [slog.Default].
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// SetLogger replaces the logger of this library. Passing nil restores the default.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
}

func logWarning(format string, v ...interface{}) {
	Logger().Warn(fmt.Sprintf("milter: warning: "+format, v...))
}

// LogWarning is called by this library when it wants to output a warning.
// Warnings can happen even when the library user did everything right (because the other end did something wrong)
//
// The default implementation logs with level warn to [Logger].
// You can re-assign LogWarning to something more suitable for your application. But do not assign nil to it.
var LogWarning = logWarning
