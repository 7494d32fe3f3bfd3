package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the minimum log level to output
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Options configures a Logger. Zero rotation values fall back to 100MB / 7 backups / 30 days.
type Options struct {
	Level      string
	Format     string // "text" or "json"
	ToFile     bool
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a leveled printf-style logger with optional JSON output and file rotation.
// Child loggers created with Named share the parent's writer.
type Logger struct {
	level      LogLevel
	jsonFormat bool
	name       string
	writer     io.Writer
	mu         *sync.Mutex
	std        *log.Logger
}

// LogEntry represents a structured log entry for JSON output
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// New creates a logger writing to stdout, and additionally to a rotated file when enabled.
func New(opts Options) *Logger {
	var writer io.Writer = os.Stdout
	if opts.ToFile && opts.FilePath != "" {
		dir := filepath.Dir(opts.FilePath)
		if dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0755)
		}

		fileWriter := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100), // megabytes
			MaxBackups: orDefault(opts.MaxBackups, 7),
			MaxAge:     orDefault(opts.MaxAgeDays, 30), // days
			Compress:   true,
		}
		writer = io.MultiWriter(os.Stdout, fileWriter)
	}

	return NewWithWriter(writer, opts.Level, opts.Format)
}

// NewWithWriter creates a logger on an arbitrary writer (used by tests and tools).
func NewWithWriter(w io.Writer, level, format string) *Logger {
	jsonFormat := format == "json"
	flags := log.LstdFlags | log.Lmicroseconds
	if jsonFormat {
		flags = 0
	}

	return &Logger{
		level:      parseLogLevel(level),
		jsonFormat: jsonFormat,
		writer:     w,
		mu:         &sync.Mutex{},
		std:        log.New(w, "", flags),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return NewWithWriter(io.Discard, "error", "text")
}

// Named returns a child logger tagging every line with the component name.
func (l *Logger) Named(name string) *Logger {
	child := *l
	if l.name != "" {
		child.name = l.name + "." + name
	} else {
		child.name = name
	}
	return &child
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseLogLevel converts string level to LogLevel enum
func parseLogLevel(level string) LogLevel {
	switch level {
	case "debug", "trace":
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

// Enabled reports whether messages at the given level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) log(level string, levelEnum LogLevel, format string, v ...interface{}) {
	if !l.Enabled(levelEnum) {
		return
	}

	message := format
	if len(v) > 0 {
		message = fmt.Sprintf(format, v...)
	}

	if l.jsonFormat {
		l.logJSON(level, message, nil)
		return
	}

	prefix := fmt.Sprintf("[%s] ", level)
	if l.name != "" {
		prefix += "[" + l.name + "] "
	}

	// the std logger is shared between children, so prefix+write must be atomic
	l.mu.Lock()
	defer l.mu.Unlock()
	l.std.SetPrefix(prefix)
	l.std.Println(message)
}

func (l *Logger) logJSON(level, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.name,
		Message:   message,
		Fields:    fields,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.mu.Lock()
		l.std.Printf("[%s] %s", level, message)
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.writer, string(data))
}

// Info logs an info-level message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log("INFO", LevelInfo, format, v...)
}

// Error logs an error-level message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log("ERROR", LevelError, format, v...)
}

// Warn logs a warning-level message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log("WARN", LevelWarn, format, v...)
}

// Debug logs a debug-level message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log("DEBUG", LevelDebug, format, v...)
}

// WithFields logs a message with additional structured fields (JSON only)
func (l *Logger) WithFields(level string, message string, fields map[string]interface{}) {
	levelEnum := parseLogLevel(level)
	if !l.Enabled(levelEnum) {
		return
	}

	if !l.jsonFormat {
		l.log(levelName(levelEnum), levelEnum, "%s: %v", message, fields)
		return
	}

	l.logJSON(levelName(levelEnum), message, fields)
}

func levelName(level LogLevel) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
