package logger

import "github.com/pion/logging"

// PionFactory routes pion library logs into the global logger.
// Trace output is folded into DEBUG.
type PionFactory struct{}

// NewLogger implements logging.LoggerFactory
func (PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{module: "pion/" + scope}
}

type pionLogger struct {
	module string
}

func (p pionLogger) Trace(msg string)                          { Debug(p.module, "%s", msg) }
func (p pionLogger) Tracef(format string, args ...interface{}) { Debug(p.module, format, args...) }
func (p pionLogger) Debug(msg string)                          { Debug(p.module, "%s", msg) }
func (p pionLogger) Debugf(format string, args ...interface{}) { Debug(p.module, format, args...) }
func (p pionLogger) Info(msg string)                           { Info(p.module, "%s", msg) }
func (p pionLogger) Infof(format string, args ...interface{})  { Info(p.module, format, args...) }
func (p pionLogger) Warn(msg string)                           { Warn(p.module, "%s", msg) }
func (p pionLogger) Warnf(format string, args ...interface{})  { Warn(p.module, format, args...) }
func (p pionLogger) Error(msg string)                          { Error(p.module, "%s", msg) }
func (p pionLogger) Errorf(format string, args ...interface{}) { Error(p.module, format, args...) }

var _ logging.LoggerFactory = PionFactory{}

