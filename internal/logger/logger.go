package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

type Config struct {
	Level        LogLevel
	Format       string // "text" or "json"
	EnableColors bool
	// File, when set, receives a copy of every record in addition to stdout.
	File string
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	logFile       *os.File
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorGray   = "\033[37m"
	ColorBold   = "\033[1m"
)

var levelColors = map[slog.Level]string{
	slog.LevelDebug: ColorGray,
	slog.LevelInfo:  ColorBlue,
	slog.LevelWarn:  ColorYellow,
	slog.LevelError: ColorRed,
}

// ColoredTextHandler wraps slog.TextHandler to add colors
type ColoredTextHandler struct {
	*slog.TextHandler
	enableColors bool
}

func NewColoredTextHandler(w io.Writer, opts *slog.HandlerOptions, enableColors bool) *ColoredTextHandler {
	return &ColoredTextHandler{
		TextHandler:  slog.NewTextHandler(w, opts),
		enableColors: enableColors,
	}
}

func (h *ColoredTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.enableColors {
		return h.TextHandler.Handle(ctx, r)
	}

	colored := slog.NewRecord(r.Time, r.Level, h.colorizeMessage(r.Level, r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		colored.AddAttrs(a)
		return true
	})
	return h.TextHandler.Handle(ctx, colored)
}

func (h *ColoredTextHandler) colorizeMessage(level slog.Level, message string) string {
	color, ok := levelColors[level]
	if !h.enableColors || !ok {
		return message
	}
	return color + ColorBold + message + ColorReset
}

// isTerminal checks if the output is a terminal (TTY)
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// ParseLevel maps a level name onto slog. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case string(LevelDebug):
		return slog.LevelDebug
	case string(LevelWarn):
		return slog.LevelWarn
	case string(LevelError):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Initialize sets up the global logger with the specified configuration
func Initialize(config Config) {
	mu.Lock()
	defer mu.Unlock()

	var out io.Writer = os.Stdout
	enableColors := config.EnableColors && isTerminal(os.Stdout)
	if config.File != "" {
		if w, err := openLogFile(config.File); err != nil {
			fmt.Fprintf(os.Stderr, "could not open log file %s: %v\n", config.File, err)
		} else {
			out = io.MultiWriter(os.Stdout, w)
			// escape codes would end up in the file
			enableColors = false
		}
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(string(config.Level))}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = NewColoredTextHandler(out, opts, enableColors)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// openLogFile must be called with mu held.
func openLogFile(path string) (io.Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	return f, nil
}

// Close releases the log file opened by Initialize, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// GetLogger returns a logger with component context
func GetLogger(component string) *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()

	if l == nil {
		Initialize(Config{Level: LevelInfo, Format: "text", EnableColors: true})
		mu.RLock()
		l = defaultLogger
		mu.RUnlock()
	}
	return l.With("component", component)
}
