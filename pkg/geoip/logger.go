package geoip

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/CVDpl/go-live-geoip/internal/common"
)

// DefaultLogger writes one JSON object per line.
type DefaultLogger struct {
	mu     sync.Mutex
	level  common.LogLevel
	out    *log.Logger
	fields map[string]interface{}
}

// NewDefaultLogger creates an info-level logger writing to stderr.
func NewDefaultLogger() common.Logger {
	return NewLogger(os.Stderr, common.LogLevelInfo)
}

// NewLogger creates a logger writing to w at the given minimum level.
func NewLogger(w io.Writer, level common.LogLevel) common.Logger {
	return &DefaultLogger{
		level:  level,
		out:    log.New(w, "", 0),
		fields: make(map[string]interface{}),
	}
}

func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.write(common.LogLevelDebug, "DEBUG", msg, fields)
}

func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.write(common.LogLevelInfo, "INFO", msg, fields)
}

func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.write(common.LogLevelWarn, "WARN", msg, fields)
}

func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.write(common.LogLevelError, "ERROR", msg, fields)
}

func (l *DefaultLogger) write(level common.LogLevel, name, msg string, fields []interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     name,
		"message":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			entry[key] = fields[i+1]
		}
	}
	for k, v := range l.fields {
		if _, exists := entry[k]; !exists {
			entry[k] = v
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf(`{"level":"ERROR","message":"failed to marshal log entry","error":%q}`, err.Error())
		return
	}
	l.out.Println(string(data))
}

// WithFields returns a logger that adds fields to every entry.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) common.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &DefaultLogger{level: l.level, out: l.out, fields: merged}
}

// contextLogger prefixes every call with a fixed set of key/value pairs.
type contextLogger struct {
	next   common.Logger
	fields []interface{}
}

// WithContext returns a logger that adds key/value pairs to every entry.
func WithContext(logger common.Logger, fields ...interface{}) common.Logger {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	if cl, ok := logger.(*contextLogger); ok {
		merged := append(append([]interface{}{}, cl.fields...), fields...)
		return &contextLogger{next: cl.next, fields: merged}
	}
	return &contextLogger{next: logger, fields: fields}
}

func (l *contextLogger) Debug(msg string, fields ...interface{}) { l.next.Debug(msg, l.merge(fields)...) }
func (l *contextLogger) Info(msg string, fields ...interface{})  { l.next.Info(msg, l.merge(fields)...) }
func (l *contextLogger) Warn(msg string, fields ...interface{})  { l.next.Warn(msg, l.merge(fields)...) }
func (l *contextLogger) Error(msg string, fields ...interface{}) { l.next.Error(msg, l.merge(fields)...) }

func (l *contextLogger) merge(fields []interface{}) []interface{} {
	out := make([]interface{}, 0, len(l.fields)+len(fields))
	out = append(out, l.fields...)
	return append(out, fields...)
}

// LogError logs err under msg with extra fields.
func LogError(logger common.Logger, msg string, err error, fields ...interface{}) {
	logger.Error(msg, append([]interface{}{"error", err.Error()}, fields...)...)
}

// LogLatency logs how long an operation took since start.
func LogLatency(logger common.Logger, operation string, start time.Time, fields ...interface{}) {
	d := time.Since(start)
	all := append([]interface{}{
		"operation", operation,
		"duration_ms", d.Milliseconds(),
		"duration_ns", d.Nanoseconds(),
	}, fields...)
	if d > time.Second {
		logger.Warn("slow operation: "+operation, all...)
		return
	}
	logger.Debug("operation completed: "+operation, all...)
}
