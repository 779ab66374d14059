// Package logger is the JSON request logger used by the HTTP edge. Each entry
// is one JSON object per line with its fields flattened next to the message.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is the severity of an entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel maps a configured level name to a Level. Unknown names are info.
func ParseLevel(s string) Level {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		return LevelWarn
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// Field is one key-value pair of an entry.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field    { return Field{Key: key, Value: value} }
func Int(key string, value int) Field   { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field   { return Field{Key: key, Value: value} }

// Err renders err as its message; a nil error is omitted from the entry.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Request-scoped field helpers.
func UserID(id string) Field        { return String("user_id", id) }
func CourseID(id string) Field      { return String("course_id", id) }
func AttemptID(id string) Field     { return String("attempt_id", id) }
func Status(code int) Field         { return Int("status", code) }
func Component(name string) Field   { return String("component", name) }
func Latency(d time.Duration) Field { return Field{Key: "latency_ms", Value: float64(d.Microseconds()) / 1000} }

// reserved keys are written by the logger itself and win over fields.
var reserved = map[string]struct{}{"ts": {}, "level": {}, "msg": {}, "caller": {}}

// sink serializes writes of every logger derived from the same root.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(line)
}

// Logger writes leveled JSON entries. Derived loggers share the output.
type Logger struct {
	out    *sink
	level  Level
	caller bool
	base   []Field
	now    func() time.Time
}

// Options configures a root logger.
type Options struct {
	Output    io.Writer
	Level     Level
	AddCaller bool
}

// DefaultOptions logs info and above to stdout with caller information.
func DefaultOptions() Options {
	return Options{Output: os.Stdout, Level: LevelInfo, AddCaller: true}
}

// New creates a root logger.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Logger{
		out:    &sink{w: opts.Output},
		level:  opts.Level,
		caller: opts.AddCaller,
		now:    time.Now,
	}
}

// Default creates a logger with DefaultOptions.
func Default() *Logger {
	return New(DefaultOptions())
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	child := *l
	child.base = append(append(make([]Field, 0, len(l.base)+len(fields)), l.base...), fields...)
	return &child
}

// WithRequestID returns a logger tagged with the request id.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String("request_id", requestID))
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

func (l *Logger) write(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]any, len(l.base)+len(fields)+4)
	for _, group := range [][]Field{l.base, fields} {
		for _, f := range group {
			if _, ok := reserved[f.Key]; ok || f.Value == nil {
				continue
			}
			entry[f.Key] = f.Value
		}
	}
	entry["ts"] = l.now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.caller {
		// write <- Info/Warn/... <- caller
		if _, file, line, ok := runtime.Caller(2); ok {
			entry["caller"] = fmt.Sprintf("%s:%d", file[strings.LastIndexByte(file, '/')+1:], line)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		line, _ = json.Marshal(map[string]string{
			"ts":    entry["ts"].(string),
			"level": level.String(),
			"msg":   msg,
			"error": "unencodable fields: " + err.Error(),
		})
	}
	l.out.write(append(line, '\n'))
}

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or a default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
