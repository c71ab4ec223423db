// Package pflog is the structured logging façade every pfwd component logs
// through. It drives logrus directly rather than the full nabbar/golib
// logger façade, whose public Entry type is coupled to gin.Context — a
// dependency surface this repository has no HTTP server to exercise.
package pflog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the narrow interface every component depends on.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

type entry struct {
	e *logrus.Entry
}

// New builds the root logger. level must be one of logrus's level names
// ("debug", "info", "warn", "error"); an unrecognized name falls back to
// info. format selects "json" or "text" (the default).
func New(level, format string) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &entry{e: logrus.NewEntry(l)}
}

func (l *entry) WithField(key string, value interface{}) Logger {
	return &entry{e: l.e.WithField(key, value)}
}

func (l *entry) WithFields(fields Fields) Logger {
	return &entry{e: l.e.WithFields(fields)}
}

func (l *entry) WithError(err error) Logger {
	return &entry{e: l.e.WithError(err)}
}

func (l *entry) Debug(msg string) { l.e.Debug(msg) }
func (l *entry) Info(msg string)  { l.e.Info(msg) }
func (l *entry) Warn(msg string)  { l.e.Warn(msg) }
func (l *entry) Error(msg string) { l.e.Error(msg) }
