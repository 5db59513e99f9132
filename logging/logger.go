package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with a fixed set of contextual fields
type Logger struct {
	entry *logrus.Entry
}

// New initializes a Logger writing to stdout
func New(level string, jsonFormat bool) *Logger {
	logger := logrus.New()
	logger.Out = os.Stdout

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{
			PrettyPrint: false,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			PadLevelText:  true,
		})
	}

	return &Logger{entry: logrus.NewEntry(logger)}
}

// Discard returns a logger that drops everything, used by tests
func Discard() *Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return &Logger{entry: logrus.NewEntry(logger)}
}

// With returns a child logger carrying the given fields
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// Session returns a child logger tagged with a short session id
func (l *Logger) Session(id string) *Logger {
	return l.With(logrus.Fields{"session": ShortID(id)})
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string, fields ...logrus.Fields) {
	l.log(logrus.DebugLevel, msg, fields...)
}

// Info logs an info-level message.
func (l *Logger) Info(msg string, fields ...logrus.Fields) {
	l.log(logrus.InfoLevel, msg, fields...)
}

// Warn logs a warn-level message.
func (l *Logger) Warn(msg string, fields ...logrus.Fields) {
	l.log(logrus.WarnLevel, msg, fields...)
}

// Error logs an error-level message.
func (l *Logger) Error(msg string, fields ...logrus.Fields) {
	l.log(logrus.ErrorLevel, msg, fields...)
}

func (l *Logger) log(level logrus.Level, msg string, fields ...logrus.Fields) {
	entry := l.entry
	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	entry.Log(level, msg)
}

// ShortID trims ids for log lines
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
