package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel atomic.Int32
	mu           sync.RWMutex
	handler      slog.Handler = newHandler(os.Stdout, "text")
	output       io.Closer
)

func init() {
	currentLevel.Store(int32(LevelInfo))
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

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
// Unknown names return LevelInfo and false.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

func SetLevel(level string) {
	if l, ok := ParseLevel(level); ok {
		currentLevel.Store(int32(l))
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// Configure sets level, format ("text" or "json") and output ("stdout",
// "stderr" or a file path opened in append mode).
func Configure(level, format, out string) error {
	var (
		w      io.Writer
		closer io.Closer
	)

	switch out {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log output %s: %w", out, err)
		}
		w = f
		closer = f
	}

	SetLevel(level)

	mu.Lock()
	defer mu.Unlock()
	if output != nil {
		_ = output.Close()
	}
	output = closer
	handler = newHandler(w, format)
	return nil
}

// SetOutput redirects log output in text format. Mostly useful in tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	handler = newHandler(w, "text")
}

func newHandler(w io.Writer, format string) slog.Handler {
	// Level filtering happens in log() so SetLevel applies to any handler.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func log(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}

	message := fmt.Sprintf(format, v...)

	mu.RLock()
	h := handler
	mu.RUnlock()

	slog.New(h).Log(context.Background(), level.slogLevel(), message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
