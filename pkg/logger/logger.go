package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Leveled logger shared by the server, the editor core and the CLI.
// - backed by log/slog with a tint handler (colors only on a terminal)
// - provides Debug/Info/Warn/Error/Fatal variants and Init(level)
// - With returns a *slog.Logger for structured call sites

var (
	mu    sync.RWMutex
	level = &slog.LevelVar{}
	base  = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}

// Init sets the global log level (case-insensitive: debug, info, warn, error).
// Unknown values fall back to info. Call early during startup.
func Init(l string) {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error", "fatal":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w)
}

// Logger returns the underlying structured logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// With returns a structured logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

func Debugf(format string, v ...any) { Logger().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { Logger().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { Logger().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { Logger().Error(fmt.Sprintf(format, v...)) }

func Fatalf(format string, v ...any) {
	Logger().Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

// LevelString returns the current level as text.
func LevelString() string {
	switch level.Level() {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	}
	return "info"
}
