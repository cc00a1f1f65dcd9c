// Package rtlog provides the runtime's structured diagnostic logging: GC
// cycles, fragment binding, and signal escapes. It is purely observational
// — conditions ride as value.Value (spec.md 3.1/7), never as log lines —
// so nothing here ever participates in control flow.
//
// Grounded on the teacher's internal/reporting.ReportingModule: a Config
// struct with sane defaults, a NewX constructor, and leveled/structured
// records. The teacher reports security findings with hand-rolled structs;
// here that same "structured record" idiom is expressed with
// github.com/sirupsen/logrus, the ecosystem-standard fit for this role.
package rtlog

import (
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Config configures a Logger. Zero value is a usable default: info level,
// text formatting, stderr output.
type Config struct {
	Level  string // "debug", "info", "warn", "error" — default "info"
	JSON   bool   // structured JSON records instead of text
	Output io.Writer
}

// Logger wraps a logrus.Logger with the runtime's fixed vocabulary of
// diagnostic events, so call sites name what happened instead of
// assembling ad hoc field sets.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger from cfg, defaulting an empty Level to "info" and a
// nil Output to os.Stderr.
func New(cfg Config) (*Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetLevel(parsed)
	l.SetOutput(out)
	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return &Logger{Logger: l}, nil
}

// GCCycle records one semispace collection (spec.md 4.1): the cause that
// triggered it and the live-byte counts before and after.
func (l *Logger) GCCycle(cause string, beforeBytes, afterBytes uint64) {
	l.WithFields(logrus.Fields{
		"event":        "gc_cycle",
		"cause":        cause,
		"before_bytes": beforeBytes,
		"after_bytes":  afterBytes,
		"before_human": humanize.Bytes(beforeBytes),
		"after_human":  humanize.Bytes(afterBytes),
	}).Debug("semispace collection")
}

// FragmentBound records one module fragment completing binding (spec.md
// 4.7): its path and stage.
func (l *Logger) FragmentBound(path string, stage int32) {
	l.WithFields(logrus.Fields{
		"event": "fragment_bound",
		"path":  path,
		"stage": stage,
	}).Info("module fragment bound")
}

// SignalEscaped records a SignalEscape firing past its nearest handler
// home (spec.md 4.4/4.6.6) — useful for diagnosing runaway escapes without
// instrumenting the interpreter's hot path.
func (l *Logger) SignalEscaped(selector string) {
	l.WithFields(logrus.Fields{
		"event":    "signal_escaped",
		"selector": selector,
	}).Warn("signal escaped past installed handlers")
}

// ConditionRaised records a host-level condition reaching the outer Run
// loop uncaught (spec.md 4.4's default-case fallthrough in execute) — the
// last diagnostic a crashing Task gets before runtimeerr.InstallCrashHandler
// takes over.
func (l *Logger) ConditionRaised(cause string, detail uint32) {
	l.WithFields(logrus.Fields{
		"event":  "condition_raised",
		"cause":  cause,
		"detail": detail,
	}).Error("condition reached outer interpreter loop")
}

// RequestFailed records an ioengine native request (spec.md §4.5) failing
// before its result reached the owning process's Airlock. id correlates
// this line with whichever caller scheduled the request.
func (l *Logger) RequestFailed(id, cause string) {
	l.WithFields(logrus.Fields{
		"event":      "request_failed",
		"request_id": id,
		"cause":      cause,
	}).Error("native request failed")
}
