// Package logging provides structured, context-aware logging for the
// formulad service built on Zap.
//
// The Logger injects correlation fields from the context into every
// entry: the active OpenTelemetry trace and span ids, the formulation
// task id, and the API request id. Output goes to stdout (JSON or
// console encoding) and optionally to an OpenTelemetry log exporter
// through the otelzap bridge.
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//		return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTaskID(ctx, task.ID)
//	logger.Info(ctx, "task accepted", zap.String("goal", task.Goal))
//
// Packages that hold a logger for a request-scoped call chain can pass
// it through the context with WithLogger / FromContext. Tests use
// NewTestLogger, which records entries in memory for assertions.
package logging
