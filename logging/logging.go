// Package logging provides the pluggable logger backend the interpreter
// core writes session lifecycle, transition, and error diagnostics to: a
// thin interface over a swappable structured backend, backed by
// sirupsen/logrus.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a structured key/value attachment for one log line.
type Fields map[string]any

// Logger is the seam the interpreter core logs through. Never logs
// directly via fmt/log so callers can swap backends (stdout text,
// logrus/JSON, a test-capturing backend) without touching core code.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	WithSession(sessionID string) Logger
}

// NoOp discards everything; the zero value for tests that don't care
// about log output.
type NoOp struct{}

func (NoOp) Debug(string, Fields)       {}
func (NoOp) Info(string, Fields)        {}
func (NoOp) Warn(string, Fields)        {}
func (NoOp) Error(string, Fields)       {}
func (n NoOp) WithSession(string) Logger { return n }

// LogrusLogger backs Logger with a structured logrus.Logger, the
// engine's default production backend.
type LogrusLogger struct {
	entry *logrus.Entry
}

// New builds a LogrusLogger writing JSON lines to w (typically os.Stdout).
func New(w io.Writer, level logrus.Level) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// Default builds a LogrusLogger at info level writing to stderr, the
// engine's out-of-the-box backend.
func Default() *LogrusLogger {
	return New(os.Stderr, logrus.InfoLevel)
}

func (l *LogrusLogger) Debug(msg string, fields Fields) { l.entry.WithFields(logrus.Fields(fields)).Debug(msg) }
func (l *LogrusLogger) Info(msg string, fields Fields)  { l.entry.WithFields(logrus.Fields(fields)).Info(msg) }
func (l *LogrusLogger) Warn(msg string, fields Fields)  { l.entry.WithFields(logrus.Fields(fields)).Warn(msg) }
func (l *LogrusLogger) Error(msg string, fields Fields) { l.entry.WithFields(logrus.Fields(fields)).Error(msg) }

// WithSession returns a Logger that attaches session_id to every line,
// used once per interpreter Session at construction time.
func (l *LogrusLogger) WithSession(sessionID string) Logger {
	return &LogrusLogger{entry: l.entry.WithField("session_id", sessionID)}
}
