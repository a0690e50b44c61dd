package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Leveled global logger for the token service, backed by log/slog.
// The f-variants format a message; Debug/Info/Warn/Error take a message plus key/value pairs.

type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelFatal = slog.Level(12)
)

var (
	mu     sync.RWMutex
	level  = LevelInfo
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
)

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level = LevelDebug
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	case "fatal":
		level = LevelFatal
	default:
		level = LevelInfo
	}
}

// UseJSON switches output to JSON lines on stdout.
func UseJSON() {
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func shouldLog(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func emit(l Level, msg string, args ...any) {
	if !shouldLog(l) {
		return
	}
	current().Log(context.Background(), l, msg, args...)
}

func Debugf(format string, v ...interface{}) { emit(LevelDebug, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { emit(LevelInfo, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { emit(LevelWarn, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { emit(LevelError, fmt.Sprintf(format, v...)) }

func Fatalf(format string, v ...interface{}) {
	current().Log(context.Background(), LevelFatal, fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	emit(LevelInfo, strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func Debug(msg string, args ...any) { emit(LevelDebug, msg, args...) }
func Info(msg string, args ...any)  { emit(LevelInfo, msg, args...) }
func Warn(msg string, args ...any)  { emit(LevelWarn, msg, args...) }
func Error(msg string, args ...any) { emit(LevelError, msg, args...) }

// With returns a child slog.Logger carrying args on every record.
// The child does not follow later Init calls.
func With(args ...any) *slog.Logger { return current().With(args...) }

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}
