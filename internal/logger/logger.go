package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the process logger writing to out, or stderr when out is nil.
// Local environments get a readable console format, everything else JSON.
func New(environment, level string, out io.Writer) *logrus.Logger {
	base := logrus.New()

	env := strings.ToLower(strings.TrimSpace(environment))
	if env == "" || env == "local" {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}
	if out == nil {
		out = os.Stderr
	}
	base.SetOutput(out)
	base.SetLevel(parseLevel(level))
	return base
}

// Discard returns an entry that drops everything; used by tests.
func Discard() *logrus.Entry {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return logrus.NewEntry(base)
}

// Component scopes a logger to one pipeline component. A nil log falls back
// to the standard logger.
func Component(log *logrus.Entry, name string) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("component", name)
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
