package stores

import (
	"log/slog"
	"time"
)

// EvaluatorLogEvent describes one expression evaluation.
type EvaluatorLogEvent struct {
	Engine   string
	Expr     string
	Scope    ScopeInfo
	Duration time.Duration
	Err      error
}

// EvaluatorLogger records evaluator events.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

// SlogEvaluatorLogger logs successful evaluations at debug level and
// failures at warn, with the scope as a group.
func SlogEvaluatorLogger(logger *slog.Logger) EvaluatorLogger {
	if logger == nil {
		return noopEvaluatorLogger{}
	}
	return EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		attrs := []any{
			slog.String("engine", event.Engine),
			slog.String("expr", event.Expr),
			slog.Group("scope",
				slog.String("tag", event.Scope.Tag),
				slog.String("id", event.Scope.ID),
				slog.Int("depth", event.Scope.Depth),
			),
			slog.Duration("duration", event.Duration),
		}
		if event.Err != nil {
			logger.Warn("expression failed", append(attrs, slog.Any("err", event.Err))...)
			return
		}
		logger.Debug("expression evaluated", attrs...)
	})
}

// WithEvaluatorLogger attaches an evaluator logger to the tree. Nil disables
// evaluation logging.
func WithEvaluatorLogger(logger EvaluatorLogger) Option {
	return func(cfg *config) {
		if logger == nil {
			cfg.evaluatorLogger = noopEvaluatorLogger{}
			return
		}
		cfg.evaluatorLogger = logger
	}
}
