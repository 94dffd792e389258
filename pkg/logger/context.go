package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// IntoContext кладёт *slog.Logger в контекст (логгер запроса или соединения).
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext извлекает логгер из контекста, а если его нет: возвращает
// глобальный. Trace/span id из ctx добавляются, если есть активный span.
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok || l == nil {
		l = L()
	}
	if attrs := AttrsFromCtx(ctx); len(attrs) > 0 {
		args := make([]any, len(attrs))
		for i, a := range attrs {
			args[i] = a
		}
		l = l.With(args...)
	}
	return l
}
