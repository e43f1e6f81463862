// Package logging builds the process logger and small helpers around it.
// Components never reach for a global logger; they receive a
// logrus.FieldLogger in their constructor.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr at the given level
// ("debug", "info", "warn", ...). Unknown levels fall back to info.
func New(level string, json bool) *logrus.Logger {
	return NewWithOutput(os.Stderr, level, json)
}

func NewWithOutput(w io.Writer, level string, json bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Discard returns a logger that drops everything. Useful as a default
// when a caller passes nil.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
