package logging

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Options struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

var def atomic.Value

func init() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	def.Store(slog.New(h))
}

// Configure replaces the process-wide logger. Loggers already handed out by
// Component keep the handler they were created with.
func Configure(opts Options) {
	cfg := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(os.Stderr, cfg)
	} else {
		h = slog.NewTextHandler(os.Stderr, cfg)
	}
	def.Store(slog.New(h))
}

func parseLevel(s string) slog.Level {
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

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// Component returns the current logger tagged with component=name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// InitFromEnv reads CCOM_LOG_LEVEL and CCOM_LOG_JSON. It returns the options
// it applied so a pipeline file can later decide whether to override them.
func InitFromEnv() Options {
	opts := Options{Level: os.Getenv("CCOM_LOG_LEVEL")}
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("CCOM_LOG_JSON"))); err == nil {
		opts.JSON = b
	}
	Configure(opts)
	return opts
}
