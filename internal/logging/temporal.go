package logging

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// TemporalAdapter exposes a zap logger through the Temporal SDK's log.Logger
// interface so client and worker internals share the process logger.
type TemporalAdapter struct {
	base *zap.SugaredLogger
}

func NewTemporalAdapter(base *zap.SugaredLogger) *TemporalAdapter {
	return &TemporalAdapter{base: base.WithOptions(zap.AddCallerSkip(1))}
}

var _ log.Logger = (*TemporalAdapter)(nil)

func (a *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	a.base.Debugw(msg, keyvals...)
}

func (a *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	a.base.Infow(msg, keyvals...)
}

func (a *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	a.base.Warnw(msg, keyvals...)
}

func (a *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	a.base.Errorw(msg, keyvals...)
}
