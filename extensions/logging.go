// Package extensions provides ready-made scope extensions.
package extensions

import (
	"time"

	"go.uber.org/zap"

	atomo "github.com/atomo-fn/atomo-go"
)

// LoggingExtension logs resolutions, executions, and cleanup failures.
type LoggingExtension struct {
	atomo.BaseExtension
	logger *zap.Logger
}

// NewLoggingExtension creates a logging extension backed by the given logger.
// A nil logger falls back to zap's no-op logger.
func NewLoggingExtension(logger *zap.Logger) *LoggingExtension {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingExtension{
		BaseExtension: atomo.NewBaseExtension("logging"),
		logger:        logger,
	}
}

func (e *LoggingExtension) WrapResolve(next func() (any, error), info *atomo.ResolveInfo) (any, error) {
	start := time.Now()
	result, err := next()
	fields := []zap.Field{
		zap.String("atom", info.Atom.Name()),
		zap.Bool("invalidated", info.Invalidated),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		e.logger.Warn("resolve failed", append(fields, zap.Error(err))...)
		return result, err
	}
	e.logger.Debug("resolved", fields...)
	return result, nil
}

func (e *LoggingExtension) WrapExec(next func() (any, error), flow atomo.AnyFlow, ctx *atomo.ExecCtx) (any, error) {
	start := time.Now()
	result, err := next()
	fields := []zap.Field{
		zap.String("flow", flow.Name()),
		zap.String("exec_id", ctx.ID()),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		e.logger.Warn("flow failed", append(fields, zap.Error(err))...)
		return result, err
	}
	e.logger.Debug("flow completed", fields...)
	return result, nil
}

// OnCleanupError logs the failure but leaves it unhandled so later
// extensions still see it.
func (e *LoggingExtension) OnCleanupError(cerr *atomo.CleanupError) bool {
	e.logger.Warn("cleanup failed",
		zap.String("atom", cerr.Atom),
		zap.String("context", cerr.Context),
		zap.Error(cerr.Err),
	)
	return false
}

func (e *LoggingExtension) Dispose(_ *atomo.Scope) error {
	return e.logger.Sync()
}
