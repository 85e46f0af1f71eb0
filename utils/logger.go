package utils

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type loggerKey struct{}

// NewLogger создает логгер приложения заданного уровня и формата (json или text)
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithLogger возвращает контекст с логгером
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext получает логгер из контекста.
// Если логгера нет, возвращается slog.Default()
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// LogOperation логирует операцию с длительностью
func LogOperation(ctx context.Context, operation string, startTime time.Time, err error) {
	duration := time.Since(startTime)
	logger := LoggerFromContext(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "операция завершилась ошибкой",
			"operation", operation, "duration", duration, "error", err)
		return
	}
	logger.InfoContext(ctx, "операция выполнена", "operation", operation, "duration", duration)
}
