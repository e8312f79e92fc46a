// Package logging holds the process-wide logger shared by the runtime
// and engine packages, and expands the module's structured errors into
// log fields.
package logging

import (
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	sberrors "github.com/wippyai/wasm-sandbox/errors"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Logger returns the installed logger, or a no-op logger by default.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// SetLogger installs a logger for the whole module.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Debugf logs a formatted debug line through the installed logger.
func Debugf(format string, args ...any) {
	Logger().Sugar().Debugf(format, args...)
}

// Err expands err into log fields. Structured errors contribute their
// phase and kind so records can be filtered the same way the errors
// themselves are matched.
func Err(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var e *sberrors.Error
	if stderrors.As(err, &e) {
		fields = append(fields,
			zap.String("phase", string(e.Phase)),
			zap.String("kind", string(e.Kind)))
	}
	return fields
}
