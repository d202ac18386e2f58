package dispatch

import "fmt"

// Logger defines the logging interface required by the dispatch library.
// Plug in zerolog, zap or anything else through a thin adapter; the
// standalone server ships a zerolog one.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Info logs info-level messages without formatting.
	Info(message string)
}

// NoopLogger discards everything. Useful in tests.
type NoopLogger struct{}

// Debugf implements Logger.Debugf as a no-op.
func (l *NoopLogger) Debugf(_ string, _ ...interface{}) {}

// Infof implements Logger.Infof as a no-op.
func (l *NoopLogger) Infof(_ string, _ ...interface{}) {}

// Warnf implements Logger.Warnf as a no-op.
func (l *NoopLogger) Warnf(_ string, _ ...interface{}) {}

// Errorf implements Logger.Errorf as a no-op.
func (l *NoopLogger) Errorf(_ string, _ ...interface{}) {}

// Info implements Logger.Info as a no-op.
func (l *NoopLogger) Info(_ string) {}

// scopedLogger prefixes every line with a fixed scope such as
// "trigger=price_alert run=3f2c...".
type scopedLogger struct {
	next  Logger
	scope string
}

func withScope(next Logger, format string, args ...interface{}) Logger {
	return &scopedLogger{next: next, scope: fmt.Sprintf(format, args...)}
}

func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	l.next.Debugf("["+l.scope+"] "+format, args...)
}

func (l *scopedLogger) Infof(format string, args ...interface{}) {
	l.next.Infof("["+l.scope+"] "+format, args...)
}

func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.next.Warnf("["+l.scope+"] "+format, args...)
}

func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.next.Errorf("["+l.scope+"] "+format, args...)
}

func (l *scopedLogger) Info(message string) {
	l.next.Info("[" + l.scope + "] " + message)
}
