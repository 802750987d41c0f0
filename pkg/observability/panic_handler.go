package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack. Call it
// directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "cycle scan")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverToError converts a panic into an error stored in *errp and logs it.
// onPanic, when non-nil, runs after logging.
//
//	func (e *Engine) decide(...) (d Decision, err error) {
//		defer observability.RecoverToError(&err, logger, "authorize", nil)
//		...
//	}
func RecoverToError(errp *error, logger *Logger, where string, onPanic func()) {
	r := recover()
	if r == nil {
		return
	}
	logPanic(logger, where, r)
	if errp != nil {
		*errp = PanicError(r)
	}
	if onPanic != nil {
		onPanic()
	}
}

// PanicError describes a recovered panic value as an error, or nil when r is nil
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

func logPanic(logger *Logger, where string, r interface{}) {
	if logger == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
