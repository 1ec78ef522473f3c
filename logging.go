package executor

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type used throughout this package: a
// logiface.Logger backed by stumpy's JSON event encoding. The one
// logging call site is Executor.logPollError, which reports a failed
// reactor poll through the executor's *Logger.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger builds a Logger writing newline-delimited JSON to w, or to
// os.Stderr if w is nil. level sets the minimum severity that reaches
// the writer.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// discardLogger is used when a caller doesn't configure one via
// WithLogger, so every logging call site can unconditionally dereference
// exec.logger rather than nil-checking at every call.
func discardLogger() *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(*stumpy.Event) error { return nil })),
	)
}
