package biocore

import (
	"fmt"
	"runtime"
	"strings"
)

// PanicLogger receives recovered panics together with a cleaned stack trace.
type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// MakePanicHandler returns a deferred recover function that forwards panics to logger.
func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			logger(funcName, err, panicStack(), fields...)
		}
	}
}

// LoggerPanicLogger reports panics through a Logger at error level.
func LoggerPanicLogger(logger Logger) PanicLogger {
	logger = NormalizeLogger(logger)
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		l := logger
		if len(fields) > 0 && fields[0] != nil {
			l = WithLoggerFields(l, fields[0])
		}
		l.Error("recovered from panic in %s: %v (%T)\n%s", funcName, err, err, stack)
	}
}

// CapturePanic runs fn and turns a panic into a HANDLER_ERROR instead of
// unwinding into the caller.
func CapturePanic(funcName string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = NewError(
				ErrHandlerError,
				fmt.Sprintf("panic in %s: %v", funcName, rec),
				nil,
				map[string]any{
					"func":  funcName,
					"stack": string(panicStack()),
				},
			)
		}
	}()
	return fn()
}

func panicStack() []byte {
	fullStack := make([]byte, 8096)
	n := runtime.Stack(fullStack, false)
	return cleanStackTrace(fullStack[:n])
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the panic() frame and its file reference
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
