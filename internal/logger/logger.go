package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config selects level, formatter and destination of the process logger.
type Config struct {
	Level  string
	Format string
	Output string
}

var (
	mu     sync.Mutex
	base   = newBase()
	output io.Closer
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(textFormatter())
	return l
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableQuote:    true,
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel maps a case-insensitive level name. Unknown names yield INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(ParseLevel(level).logrus())
}

// Configure applies a full logging configuration. Output may be "stdout",
// "stderr" or a file path, which is opened in append mode.
func Configure(cfg Config) error {
	var w io.Writer
	var closer io.Closer

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("open log output %s: %w", cfg.Output, err)
		}
		w = f
		closer = f
	}

	var formatter logrus.Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = textFormatter()
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	mu.Lock()
	defer mu.Unlock()

	if output != nil {
		_ = output.Close()
	}
	output = closer

	base.SetOutput(w)
	base.SetFormatter(formatter)
	base.SetLevel(ParseLevel(cfg.Level).logrus())
	return nil
}

// SetOutput redirects the logger, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}

// Fields is a set of structured key/value pairs attached to an Entry.
type Fields map[string]any

// Entry is a logger bound to a fixed set of fields.
type Entry struct {
	e *logrus.Entry
}

// With returns an Entry carrying the given fields on every line.
func With(fields Fields) *Entry {
	return &Entry{e: base.WithFields(logrus.Fields(fields))}
}

func (e *Entry) With(fields Fields) *Entry {
	return &Entry{e: e.e.WithFields(logrus.Fields(fields))}
}

func (e *Entry) Debug(format string, v ...any) { e.e.Debugf(format, v...) }
func (e *Entry) Info(format string, v ...any)  { e.e.Infof(format, v...) }
func (e *Entry) Warn(format string, v ...any)  { e.e.Warnf(format, v...) }
func (e *Entry) Error(format string, v ...any) { e.e.Errorf(format, v...) }

func Debug(format string, v ...any) {
	base.Debugf(format, v...)
}

func Info(format string, v ...any) {
	base.Infof(format, v...)
}

func Warn(format string, v ...any) {
	base.Warnf(format, v...)
}

func Error(format string, v ...any) {
	base.Errorf(format, v...)
}
