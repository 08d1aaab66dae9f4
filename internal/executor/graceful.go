package executor

// graceful.go provides nil-safe logging helpers for optional collaborators.
// The pattern: warn about errors but don't fail the task cycle.

// LevelLogger is the subset of Logger the helpers need.
type LevelLogger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// GracefulWarn logs a warning if logger is non-nil.
//
// Usage:
//
//	if err := hook.AfterTask(ctx, spec, res); err != nil {
//	    GracefulWarn(o.logger, "history: %v", err)
//	}
func GracefulWarn(logger LevelLogger, format string, args ...interface{}) {
	if logger != nil {
		logger.Warnf(format, args...)
	}
}

// GracefulInfo logs an info message if logger is non-nil.
func GracefulInfo(logger LevelLogger, format string, args ...interface{}) {
	if logger != nil {
		logger.Infof(format, args...)
	}
}
