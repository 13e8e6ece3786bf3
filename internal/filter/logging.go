package filter

import (
	"context"
	"log/slog"
)

// LoggingFilter logs every event passing through it.
type LoggingFilter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLoggingFilter logs through logger, or through the chain logger when
// logger is nil.
func NewLoggingFilter(logger *slog.Logger, level slog.Level) *LoggingFilter {
	return &LoggingFilter{logger: logger, level: level}
}

func (f *LoggingFilter) String() string { return "log" }

func (f *LoggingFilter) Process(ctx context.Context, ev *Event) (Outcome, error) {
	logger := f.logger
	if logger == nil {
		logger = ev.Chain().Logger()
	}
	logger.Log(ctx, f.level, "event",
		slog.String("chain", ev.Chain().ID()),
		slog.String("session", ev.SessionID()),
		slog.String("filter", ev.Filter()),
		slog.String("direction", string(ev.Direction)),
		slog.String("event", string(ev.Kind)),
		slog.Int("size", ev.Size()),
	)
	return Forward, nil
}
