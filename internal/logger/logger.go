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

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name ("debug", "info", ...) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %q", s)
	}
}

// sink is the output shared by a root Logger and every logger derived via With.
type sink struct {
	mu            sync.RWMutex
	level         Level
	file          *os.File
	out           io.Writer
	infoLog       *log.Logger
	warnLog       *log.Logger
	errorLog      *log.Logger
	debugLog      *log.Logger
	logDir        string
	currentDay    string
	retentionDays int
}

// Logger writes leveled log lines either to a daily rotated file or to a writer
type Logger struct {
	s      *sink
	prefix string
}

// Config holds logger configuration
type Config struct {
	// LogDir enables daily rotated files. Empty means write to Output.
	LogDir        string
	Level         Level
	RetentionDays int
	// Output is used when LogDir is empty. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	logDir := filepath.Join(homeDir, ".ezvoice", "logs")

	return Config{
		LogDir:        logDir,
		Level:         INFO,
		RetentionDays: 7,
	}
}

// New creates a new logger
func New(config Config) (*Logger, error) {
	s := &sink{
		level:         config.Level,
		logDir:        config.LogDir,
		retentionDays: config.RetentionDays,
		out:           config.Output,
	}

	if s.logDir == "" {
		if s.out == nil {
			s.out = os.Stderr
		}
		s.setWriter(s.out)
		return &Logger{s: s}, nil
	}

	l := &Logger{s: s}
	if err := l.rotateLog(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return l, nil
}

// Discard returns a logger that drops everything. Used as the default by
// components that were not given a logger.
func Discard() *Logger {
	s := &sink{level: ERROR + 1, out: io.Discard}
	s.setWriter(io.Discard)
	return &Logger{s: s}
}

// With returns a logger that shares the same output and level but prefixes
// every message with "[name] ".
func (l *Logger) With(name string) *Logger {
	return &Logger{s: l.s, prefix: l.prefix + "[" + name + "] "}
}

func (s *sink) setWriter(w io.Writer) {
	s.infoLog = log.New(w, "[INFO] ", log.LstdFlags)
	s.warnLog = log.New(w, "[WARN] ", log.LstdFlags)
	s.errorLog = log.New(w, "[ERROR] ", log.LstdFlags)
	s.debugLog = log.New(w, "[DEBUG] ", log.LstdFlags)
}

// rotateLog rotates the log file if necessary
func (l *Logger) rotateLog() error {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	today := time.Now().Format("20060102")

	if s.currentDay == today && s.file != nil {
		return nil
	}

	if s.file != nil {
		s.file.Close()
	}

	if err := os.MkdirAll(s.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("ezvoice-%s.log", today)
	filePath := filepath.Join(s.logDir, filename)

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	s.file = file
	s.currentDay = today
	s.setWriter(file)

	if err := s.cleanOldLogs(); err != nil {
		s.warnLog.Printf("Failed to clean old logs: %v", err)
	}

	return nil
}

// cleanOldLogs deletes log files older than retentionDays
func (s *sink) cleanOldLogs() error {
	cutoffDate := time.Now().AddDate(0, 0, -s.retentionDays)

	entries, err := os.ReadDir(s.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffDate) {
			// Continue even if we can't delete a file
			_ = os.Remove(filepath.Join(s.logDir, entry.Name()))
		}
	}

	return nil
}

// checkRotation checks if log rotation is needed and performs it
func (l *Logger) checkRotation() {
	l.s.mu.RLock()
	currentDay := l.s.currentDay
	fileBacked := l.s.logDir != ""
	l.s.mu.RUnlock()

	if !fileBacked {
		return
	}

	today := time.Now().Format("20060102")
	if currentDay != today {
		if err := l.rotateLog(); err != nil {
			// Can't log this error since logging is failing
			fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
		}
	}
}

func (l *Logger) output(level Level, format string, v ...interface{}) {
	l.s.mu.RLock()
	current := l.s.level
	l.s.mu.RUnlock()

	if current > level {
		return
	}

	l.checkRotation()

	l.s.mu.RLock()
	var target *log.Logger
	switch level {
	case DEBUG:
		target = l.s.debugLog
	case INFO:
		target = l.s.infoLog
	case WARN:
		target = l.s.warnLog
	default:
		target = l.s.errorLog
	}
	l.s.mu.RUnlock()

	if target != nil {
		target.Printf(l.prefix+format, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.output(DEBUG, format, v...)
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.output(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.output(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.output(ERROR, format, v...)
}

// Close closes the log file
func (l *Logger) Close() error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if l.s.file != nil {
		err := l.s.file.Close()
		l.s.file = nil
		return err
	}
	return nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	l.s.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	return l.s.level
}
