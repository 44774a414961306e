package common

// NullLogger discards all log messages.
type NullLogger struct{}

// NewNullLogger creates a logger that discards all messages.
func NewNullLogger() Logger { return NullLogger{} }

func (NullLogger) Debug(string, ...interface{}) {}
func (NullLogger) Info(string, ...interface{})  {}
func (NullLogger) Warn(string, ...interface{})  {}
func (NullLogger) Error(string, ...interface{}) {}

// LoggerOrNull returns l, or a NullLogger when l is nil.
func LoggerOrNull(l Logger) Logger {
	if l == nil {
		return NullLogger{}
	}
	return l
}
