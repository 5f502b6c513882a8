package rules

import (
	"log/slog"
	"time"
)

// LogEvent describes an evaluation attempt for logging.
type LogEvent struct {
	Engine   string
	Expr     string
	Role     string
	Duration time.Duration
	Err      error
}

// Logger records evaluator events.
type Logger interface {
	LogEvaluation(LogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LogEvent)

// LogEvaluation implements Logger.
func (f LoggerFunc) LogEvaluation(event LogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) LogEvaluation(LogEvent) {}

// SlogLogger writes evaluation events to logger, failures at warn level.
func SlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}
	return LoggerFunc(func(event LogEvent) {
		attrs := []any{
			"engine", event.Engine,
			"expr", event.Expr,
			"role", event.Role,
			"duration", event.Duration,
		}
		if event.Err != nil {
			logger.Warn("rule evaluation failed", append(attrs, "error", event.Err)...)
			return
		}
		logger.Debug("rule evaluated", attrs...)
	})
}
