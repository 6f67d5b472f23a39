package logging

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type waLogger struct {
	sugar *zap.SugaredLogger
}

// Whatsmeow adapts a zap logger to whatsmeow's logging interface. Sub
// loggers become named zap children, so "Client" logs as "whatsmeow.Client".
func Whatsmeow(logger *zap.Logger) waLog.Logger {
	return &waLogger{sugar: logger.Named("whatsmeow").Sugar()}
}

func (l *waLogger) Errorf(msg string, args ...any) { l.sugar.Errorf(msg, args...) }
func (l *waLogger) Warnf(msg string, args ...any)  { l.sugar.Warnf(msg, args...) }
func (l *waLogger) Infof(msg string, args ...any)  { l.sugar.Infof(msg, args...) }
func (l *waLogger) Debugf(msg string, args ...any) { l.sugar.Debugf(msg, args...) }

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{sugar: l.sugar.Named(module)}
}

