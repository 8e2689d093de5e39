package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// InitLogger builds the process-wide JSON logger. Source locations are
// trimmed to file:line so log lines stay greppable without leaking
// build paths.
func InitLogger(level slog.Level) *slog.Logger {
	return NewLogger(os.Stdout, level)
}

// NewLogger builds a JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
					src.File = filepath.Base(src.File)
					src.Function = ""
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

// NewComponentLogger tags every record with the owning component so a
// single call's logs can be split by pipeline stage.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	return base.With(slog.String("component", component))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
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
