package certificates

import "go.uber.org/zap"

// nonCritical runs a best-effort side effect. A failure is logged at warn
// level and never reaches the caller.
func nonCritical(logger *zap.Logger, op string, fn func() error, fields ...zap.Field) {
	if err := fn(); err != nil {
		logger.Warn("Non-critical operation failed",
			append(fields, zap.String("op", op), zap.Error(err))...)
	}
}
