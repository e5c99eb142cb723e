package log

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"voxio-chat/internal/pkg/term"
)

// ParseLevel переводит строку уровня из конфигурации в slog.Level. Неизвестный уровень дает info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewLogger создает логгер с маскировкой токенов.
// При пустом format выбирается текстовый вывод для терминала и JSON в остальных случаях.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	if format == "" {
		format = "json"
		if f, ok := w.(*os.File); ok && term.IsTerminal(f) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return NewMaskedLogger(handler)
}
