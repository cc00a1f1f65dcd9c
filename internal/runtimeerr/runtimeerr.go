// Package runtimeerr holds the host-level failure type the runtime raises
// outside the tagged-value condition system (spec.md 3.1/7): malformed
// bytecode blobs, config validation failures, plankton factory errors. A
// Condition is a value.Value with domain Condition and rides the
// interpreter's own data path; a RuntimeError is a Go error returned from
// code that runs before or around interpretation and never reaches a
// running Task.
//
// Grounded on the teacher's internal/errors.SentraError: the same
// Type/Message/Location/CallStack/Source shape, retargeted from
// surface-language diagnostics to host-level ones. Stack traces are
// captured with github.com/pkg/errors rather than hand-rolled, since the
// teacher's own CallStack bookkeeping duplicates what that library already
// does for any wrapped error.
package runtimeerr

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// ErrorType classifies a RuntimeError by the subsystem that raised it.
type ErrorType string

const (
	BytecodeError      ErrorType = "BytecodeError"
	ConfigError        ErrorType = "ConfigError"
	PlanktonError      ErrorType = "PlanktonError"
	IOEngineError      ErrorType = "IOEngineError"
	HeapError          ErrorType = "HeapError"
)

// SourceLocation pins a RuntimeError to a file/line/column, when one is
// known (e.g. a config file entry, a module library blob's byte offset).
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// RuntimeError is a host-level failure: a type, a message, an optional
// location, and the stack at the point it was raised.
type RuntimeError struct {
	Type     ErrorType
	Message  string
	Location SourceLocation
	cause    error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s", e.Type, e.Message))
	if e.Location.File != "" {
		sb.WriteString(fmt.Sprintf(" (at %s:%d:%d)", e.Location.File, e.Location.Line, e.Location.Column))
	}
	return sb.String()
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *RuntimeError) Unwrap() error { return e.cause }

// New builds a RuntimeError of typ with message, capturing the current
// stack via github.com/pkg/errors so %+v formatting prints a trace.
func New(typ ErrorType, message string) *RuntimeError {
	return &RuntimeError{Type: typ, Message: message, cause: errors.New(message)}
}

// Wrap builds a RuntimeError of typ around an existing error, preserving
// its stack if it already carries one (errors.Wrap is a no-op trace-wise
// on an error that already has one, and adds one otherwise).
func Wrap(typ ErrorType, err error, message string) *RuntimeError {
	return &RuntimeError{Type: typ, Message: message, cause: errors.Wrap(err, message)}
}

// WithLocation attaches a source location and returns e for chaining.
func (e *RuntimeError) WithLocation(file string, line, column int) *RuntimeError {
	e.Location = SourceLocation{File: file, Line: line, Column: column}
	return e
}

// StackTrace formats the wrapped cause's captured stack, if any, in
// github.com/pkg/errors's %+v form.
func (e *RuntimeError) StackTrace() string {
	if e.cause == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.cause)
}

// CrashHandler is the hook InstallCrashHandler registers: signal names the
// condition (a Go signal name, or "panic" for a recovered panic), and
// backtrace is the formatted stack at the point of failure.
type CrashHandler func(signal, backtrace string)

var installedHandler CrashHandler = defaultCrashHandler

// InstallCrashHandler replaces the process-wide crash handler, returning
// the previously installed one so a caller can restore it (e.g. in tests).
// Grounded on original_source/src/c/crash.c's installable handler with a
// stderr-dumping default; crash-execinfo-opt.c/crash-posix-opt.c/
// crash-none-opt.c's per-platform strategy selection collapses to a single
// implementation here, since Go's runtime.Stack gives every platform this
// module targets the same portable stack dump the original split three
// ways by build tag.
func InstallCrashHandler(h CrashHandler) CrashHandler {
	prev := installedHandler
	if h == nil {
		h = defaultCrashHandler
	}
	installedHandler = h
	return prev
}

// Crash invokes the installed crash handler — internal/interp calls this
// when a Wat condition reaches the outer Run loop uncaught, the runtime
// equivalent of the original's crash() entry point.
func Crash(signal string) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, false)
	installedHandler(signal, string(buf[:n]))
}

// defaultCrashHandler matches crash-posix-opt.c's best-effort strategy on
// platforms runtime.Stack supports (effectively all of them under Go) and
// crash-none-opt.c's silent no-op is never needed here; callers that want
// silence install their own no-op handler instead.
func defaultCrashHandler(signal, backtrace string) {
	fmt.Fprintf(os.Stderr, "fatal: %s\n%s\n", signal, backtrace)
}
