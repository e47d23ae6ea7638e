package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Category names the stream a log line belongs to. Every record carries it
// as the "category" attribute so the single rotating file can still be split.
type Category string

const (
	Application   Category = "application"
	DiscordEvents Category = "discord"
	Database      Category = "database"
	Errors        Category = "error"
)

// Config configures SetupLogger.
type Config struct {
	// Dir is where kokobot.log and its rotations are written. Empty disables the file sink.
	Dir string

	// Level is one of "debug", "info", "warn", "error". Defaults to info.
	Level string

	// Format is "text" (default) or "json".
	Format string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Console mirrors records to stdout (stderr for the error category).
	Console bool
}

// Logger owns the handlers behind the category loggers.
type Logger struct {
	mu      sync.RWMutex
	out     slog.Handler
	errOut  slog.Handler
	rotator *lumberjack.Logger
	level   *slog.LevelVar
}

var (
	// GlobalLogger is set by SetupLogger. Category loggers created before that
	// point resolve it lazily, so package-level loggers are safe.
	GlobalLogger = newDiscardLogger()

	setupMu sync.Mutex
)

func newDiscardLogger() *Logger {
	lv := new(slog.LevelVar)
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: lv})
	return &Logger{out: h, errOut: h, level: lv}
}

// SetupLogger builds the global logger from cfg. Calling it again replaces the
// previous configuration and closes the previous file.
func SetupLogger(cfg Config) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}

	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: lv}

	var fileW io.Writer
	var rotator *lumberjack.Logger
	if strings.TrimSpace(cfg.Dir) != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "kokobot.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileW = rotator
	}

	stdout := writers(fileW, cfg.Console, os.Stdout)
	stderr := writers(fileW, cfg.Console, os.Stderr)

	next := &Logger{
		out:     newHandler(cfg.Format, stdout, opts),
		errOut:  newHandler(cfg.Format, stderr, opts),
		rotator: rotator,
		level:   lv,
	}

	prev := GlobalLogger
	GlobalLogger = next
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func writers(file io.Writer, console bool, std io.Writer) io.Writer {
	switch {
	case file != nil && console:
		return io.MultiWriter(std, file)
	case file != nil:
		return file
	case console:
		return std
	default:
		return io.Discard
	}
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level slog.Level) {
	if l == nil || l.level == nil {
		return
	}
	l.level.Set(level)
}

// Level reports the current minimum level.
func (l *Logger) Level() slog.Level {
	if l == nil || l.level == nil {
		return slog.LevelInfo
	}
	return l.level.Level()
}

// Sync is kept for callers that flush before exit; lumberjack writes through.
func (l *Logger) Sync() error { return nil }

// Close releases the rotating file.
func (l *Logger) Close() error {
	if l == nil || l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

func (l *Logger) handler(errStream bool) slog.Handler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if errStream {
		return l.errOut
	}
	return l.out
}

// categoryHandler resolves GlobalLogger at log time.
type categoryHandler struct {
	category Category
	attrs    []slog.Attr
	groups   []string
}

func (h *categoryHandler) current() slog.Handler {
	base := GlobalLogger.handler(h.category == Errors)
	base = base.WithAttrs([]slog.Attr{slog.String("category", string(h.category))})
	if len(h.attrs) > 0 {
		base = base.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		base = base.WithGroup(g)
	}
	return base
}

func (h *categoryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return GlobalLogger.handler(h.category == Errors).Enabled(ctx, level)
}

func (h *categoryHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.current().Handle(ctx, r)
}

func (h *categoryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *categoryHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

// ForCategory returns a logger bound to category.
func ForCategory(c Category) *slog.Logger {
	return slog.New(&categoryHandler{category: c})
}

var (
	appLogger     = ForCategory(Application)
	discordLogger = ForCategory(DiscordEvents)
	dbLogger      = ForCategory(Database)
	errLogger     = ForCategory(Errors)
)

// ApplicationLogger logs lifecycle and command activity.
func ApplicationLogger() *slog.Logger { return appLogger }

// DiscordLogger logs gateway and REST activity.
func DiscordLogger() *slog.Logger { return discordLogger }

// DatabaseLogger logs note store activity.
func DatabaseLogger() *slog.Logger { return dbLogger }

// ErrorLoggerRaw logs to the error stream.
func ErrorLoggerRaw() *slog.Logger { return errLogger }

// ForComponent returns an application logger tagged with a component name.
func ForComponent(name string) *slog.Logger {
	return appLogger.With("component", name)
}
