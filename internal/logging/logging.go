package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes leveled logs to a rotating file and stdout.
type Logger struct {
	*logrus.Entry
	closer io.Closer
}

// New creates a Logger writing to dir/touchpoint.log with the given level.
func New(dir, level string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs folder failed: %w", err)
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	sink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "touchpoint.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	base := logrus.New()
	base.SetLevel(lvl)
	base.SetOutput(io.MultiWriter(sink, os.Stdout))
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Logger{Entry: logrus.NewEntry(base), closer: sink}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// With returns a child Logger carrying the given field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value), closer: l.closer}
}

// Close flushes and closes the file sink.
func (l *Logger) Close() {
	if l.closer == nil {
		return
	}
	_ = l.closer.Close()
}
