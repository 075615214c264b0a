package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields mirrors logrus.Fields so callers don't import logrus for a map literal.
type Fields = logrus.Fields

// Log wraps logrus.Logger with component helpers.
type Log struct {
	*logrus.Logger
}

var global = New()

// New returns a JSON logger at the level named by LOG_LEVEL (default info).
func New() *Log {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetReportCaller(true)

	lvl, err := logrus.ParseLevel(strings.ToLower(envOr("LOG_LEVEL", "info")))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(jsonFormatter())
	return &Log{Logger: l}
}

// Get returns the process-wide logger.
func Get() *Log { return global }

// Component is shorthand for Get().WithComponent(name).
func Component(name string) *logrus.Entry {
	return global.WithComponent(name)
}

func (l *Log) WithComponent(name string) *logrus.Entry {
	return l.Logger.WithField("component", name)
}

// Configure applies level, format ("json" or "text") and output. Output is
// "stdout", "stderr" or a file path; file output rotates through lumberjack
// when maxAgeDays > 0.
func (l *Log) Configure(level, format, output string, maxAgeDays int) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	l.SetLevel(lvl)

	switch format {
	case "json", "":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	w, err := openOutput(output, maxAgeDays)
	if err != nil {
		return err
	}
	l.SetOutput(w)
	return nil
}

func openOutput(output string, maxAgeDays int) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if maxAgeDays > 0 {
		return &lumberjack.Logger{
			Filename: output,
			MaxAge:   maxAgeDays,
			MaxSize:  100,
			Compress: true,
		}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", output, err)
	}
	return f, nil
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
