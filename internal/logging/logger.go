// Package logging provides category-based file logging plus a zap-backed
// console logger. File logging is gated by the debugMode argument to
// Initialize (the CLI passes its --debug flag); when disabled it is a
// silent no-op so normal runs do not pay for log I/O.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem log file under <state>/logs/.
type Category string

const (
	CategoryBoot      Category = "boot"
	CategoryConfig    Category = "config"
	CategoryEval      Category = "eval"
	CategoryCache     Category = "cache"
	CategoryPush      Category = "push"
	CategoryProcess   Category = "process"
	CategoryTask      Category = "task"
	CategoryActivity  Category = "activity"
	CategoryLock      Category = "lock"
)

type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	enabled   bool
)

// Initialize sets the state directory and enables file logging when
// debugMode is true. Calling it again replaces the active configuration;
// previously opened files are left in place (they are appended to, not
// truncated, on next Get).
func Initialize(stateDir string, debugMode bool) error {
	if stateDir == "" {
		return fmt.Errorf("state directory required")
	}

	loggersMu.Lock()
	logsDir = filepath.Join(stateDir, "logs")
	enabled = debugMode
	loggersMu.Unlock()

	if !debugMode {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	Get(CategoryBoot).Info("logging initialized, state=%s", stateDir)
	return nil
}

// Get returns (creating if necessary) the logger for a category.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category}
	if enabled && logsDir != "" {
		path := filepath.Join(logsDir, string(category)+".log")
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			l.file = f
			l.logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
		}
	}
	loggers[category] = l
	return l
}

func (l *Logger) write(level, format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[%s] "+format, append([]any{level}, args...)...)
}

func (l *Logger) Debug(format string, args ...any) { l.write("DEBUG", format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.write("INFO", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.write("WARN", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.write("ERROR", format, args...) }

// Close flushes and closes every open category log file.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// NewConsole builds the user-facing zap logger used by the CLI driver.
// verbose lowers the level to debug; otherwise info-and-above is printed
// without structured JSON, matching an interactive CLI's expectations.
func NewConsole(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
