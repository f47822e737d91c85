package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters (lumberjack semantics).
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes where and how the agent logs.
// If File is empty, logs go to stderr only. When File is set, output is
// duplicated to a rotated file.
type Config struct {
	Level      string `json:"level" mapstructure:"level"` // debug, info, warn, error
	File       string `json:"file" mapstructure:"file"`   // optional log file path
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
	NoColor    bool   `json:"no_color" mapstructure:"no_color"`
}

// New builds a *slog.Logger from the config. The terminal handler colorizes
// levels; the file writer rotates via lumberjack.
func New(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}

	var w io.Writer = os.Stderr
	if c.File != "" {
		fw := &lj.Logger{
			Filename:   c.File,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		w = io.MultiWriter(os.Stderr, fw)
	}

	if c.NoColor || c.File != "" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(NewColorTextHandler(w, opts))
}

// SetDefault installs the configured logger as the process default.
func SetDefault(c Config) *slog.Logger {
	l := New(c)
	slog.SetDefault(l)
	return l
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

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
