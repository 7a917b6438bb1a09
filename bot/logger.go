package bot

import (
	"fmt"
	"log/slog"
)

// Logger routes telego's printf-style output into slog.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(component string) Logger {
	return Logger{
		logger: slog.With("component", component),
	}
}

func (l Logger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
