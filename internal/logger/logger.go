package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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
		return "INFO"
	}
}

// ParseLevel parses a level string (case-insensitive).
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a leveled structured logger.
type Logger struct {
	mu     sync.RWMutex
	level  Level
	out    *log.Logger
	parent *Logger
	fields []any
}

var defaultLogger = &Logger{
	level: LevelInfo,
	out:   log.New(os.Stdout, "", 0),
}

// Default returns the package-level logger.
func Default() *Logger {
	return defaultLogger
}

// SetLevel changes the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput changes the writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = log.New(w, "", 0)
}

// With returns a child logger that prefixes every line with kvs.
// The child shares level and output with its parent.
func (l *Logger) With(kvs ...any) *Logger {
	root := l.root()
	fields := make([]any, 0, len(l.fields)+len(kvs))
	fields = append(fields, l.fields...)
	fields = append(fields, kvs...)
	return &Logger{parent: root, fields: fields}
}

func (l *Logger) root() *Logger {
	if l.parent != nil {
		return l.parent
	}
	return l
}

func (l *Logger) writer() *log.Logger {
	r := l.root()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.out
}

func (l *Logger) enabled(level Level) bool {
	r := l.root()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return level >= r.level
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if !l.enabled(level) {
		return
	}
	l.log(level, fmt.Sprintf(format, args...))
}

func (l *Logger) log(level Level, msg string, kvs ...any) {
	if !l.enabled(level) {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", ts, level, msg)
	writeFields(&b, l.fields)
	writeFields(&b, kvs)
	l.writer().Println(b.String())
}

func writeFields(b *strings.Builder, kvs []any) {
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(b, " %v=%v", kvs[i], kvs[i+1])
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, kvs ...any) { l.log(LevelDebug, msg, kvs...) }

// Info logs an info message.
func (l *Logger) Info(msg string, kvs ...any) { l.log(LevelInfo, msg, kvs...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, kvs ...any) { l.log(LevelWarn, msg, kvs...) }

// Error logs an error message.
func (l *Logger) Error(msg string, kvs ...any) { l.log(LevelError, msg, kvs...) }

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelWarn, format, args...) }

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// OpenFile tees the default logger's current output into the file at path.
// Closing the returned closer restores the previous output.
func OpenFile(path string) (io.Closer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	prev := defaultLogger.writer().Writer()
	defaultLogger.SetOutput(io.MultiWriter(prev, f))
	return &teeFile{file: f, prev: prev}, nil
}

type teeFile struct {
	file *os.File
	prev io.Writer
}

func (t *teeFile) Close() error {
	defaultLogger.SetOutput(t.prev)
	return t.file.Close()
}

// Package-level convenience functions.

func SetLevel(level Level)              { defaultLogger.SetLevel(level) }
func SetOutput(w io.Writer)             { defaultLogger.SetOutput(w) }
func With(kvs ...any) *Logger           { return defaultLogger.With(kvs...) }
func Debug(msg string, kvs ...any)      { defaultLogger.Debug(msg, kvs...) }
func Info(msg string, kvs ...any)       { defaultLogger.Info(msg, kvs...) }
func Warn(msg string, kvs ...any)       { defaultLogger.Warn(msg, kvs...) }
func Error(msg string, kvs ...any)      { defaultLogger.Error(msg, kvs...) }
func Infof(format string, args ...any)  { defaultLogger.Infof(format, args...) }
func Warnf(format string, args ...any)  { defaultLogger.Warnf(format, args...) }
func Errorf(format string, args ...any) { defaultLogger.Errorf(format, args...) }
func Debugf(format string, args ...any) { defaultLogger.Debugf(format, args...) }
