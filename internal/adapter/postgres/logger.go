package postgres

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/jackc/pgx/v5/tracelog"
)

// pgxLogLevels maps pgx log levels to slog levels. pgx logs every query at
// info, which is too chatty for our info level.
var pgxLogLevels = map[tracelog.LogLevel]slog.Level{
	tracelog.LogLevelTrace: slog.LevelDebug - 2,
	tracelog.LogLevelDebug: slog.LevelDebug,
	tracelog.LogLevelInfo:  slog.LevelDebug,
	tracelog.LogLevelWarn:  slog.LevelWarn,
	tracelog.LogLevelError: slog.LevelError,
}

type pgxLogger struct {
	l *slog.Logger
}

// NewPgxLogger returns a tracelog.Logger writing to l.
func NewPgxLogger(l *slog.Logger) tracelog.Logger {
	return &pgxLogger{l: l}
}

func (pl *pgxLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	l, ok := pgxLogLevels[level]
	if !ok {
		l = slog.LevelError
	}
	if !pl.l.Enabled(ctx, l) {
		return
	}

	attrs := make([]slog.Attr, 0, len(data))
	for _, k := range slices.Sorted(maps.Keys(data)) {
		attrs = append(attrs, slog.Any(k, data[k]))
	}
	pl.l.LogAttrs(ctx, l, "pgx: "+msg, attrs...)
}
