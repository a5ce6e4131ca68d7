// Package logger emits structured JSON log lines. One line per event,
// machine-parseable, with typed field constructors so call sites stay
// terse.
package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the level's wire name.
func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config string to a Level. Unknown strings fall
// back to info rather than erroring, so a typo in an env var never
// silences logging entirely.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// Field is one structured key-value pair.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field          { return Field{key, value} }
func Int(key string, value int) Field         { return Field{key, value} }
func Int64(key string, value int64) Field     { return Field{key, value} }
func Float64(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field       { return Field{key, value} }
func Any(key string, value any) Field         { return Field{key, value} }

// Duration renders as a human-readable string, not nanoseconds.
func Duration(key string, value time.Duration) Field {
	return Field{key, value.String()}
}

// Err is the conventional error field.
func Err(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// Field constructors for the identifiers that recur across the engine.
func StudentID(id string) Field   { return Field{"student_id", id} }
func SkillID(id string) Field     { return Field{"skill_id", id} }
func ItemID(id string) Field      { return Field{"item_id", id} }
func AttemptKey(key string) Field { return Field{"idempotency_key", key} }
func Mastery(p float64) Field     { return Field{"mastery", p} }
func Confidence(c float64) Field  { return Field{"confidence", c} }
func Component(name string) Field { return Field{"component", name} }

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// Options configures a Logger.
type Options struct {
	// Output receives one JSON line per event (default os.Stdout).
	Output io.Writer

	// Level is the minimum severity emitted.
	Level Level

	// AddCaller annotates each line with file:line of the call site.
	AddCaller bool

	// CallerSkip adjusts the caller frame for wrapping helpers.
	CallerSkip int
}

// DefaultOptions returns info-level logging to stdout with callers.
func DefaultOptions() Options {
	return Options{Output: os.Stdout, Level: LevelInfo, AddCaller: true}
}

// Logger writes structured lines. A Logger is immutable; With derives
// children carrying bound fields. The write mutex is shared by the
// whole derivation tree so lines never interleave.
type Logger struct {
	out        io.Writer
	wmu        *sync.Mutex
	level      Level
	bound      []Field
	addCaller  bool
	callerSkip int
}

// New builds a Logger from opts.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		out:        out,
		wmu:        &sync.Mutex{},
		level:      opts.Level,
		addCaller:  opts.AddCaller,
		callerSkip: opts.CallerSkip,
	}
}

// Default returns a Logger with DefaultOptions.
func Default() *Logger { return New(DefaultOptions()) }

// With derives a child Logger whose lines always carry fields.
func (l *Logger) With(fields ...Field) *Logger {
	child := *l
	child.bound = append(l.bound[:len(l.bound):len(l.bound)], fields...)
	return &child
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l *Logger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}

	var buf bytes.Buffer
	buf.WriteString(`{"timestamp":"`)
	buf.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	buf.WriteString(`","level":"`)
	buf.WriteString(level.String())
	buf.WriteString(`","message":`)
	writeJSONString(&buf, msg)

	if l.addCaller {
		if _, file, line, ok := runtime.Caller(2 + l.callerSkip); ok {
			if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
				file = file[idx+1:]
			}
			buf.WriteString(`,"caller":`)
			writeJSONString(&buf, fmt.Sprintf("%s:%d", file, line))
		}
	}

	for _, f := range l.bound {
		writeField(&buf, f)
	}
	for _, f := range fields {
		writeField(&buf, f)
	}
	buf.WriteString("}\n")

	l.wmu.Lock()
	_, _ = l.out.Write(buf.Bytes())
	l.wmu.Unlock()
}

func writeField(buf *bytes.Buffer, f Field) {
	buf.WriteByte(',')
	writeJSONString(buf, f.Key)
	buf.WriteByte(':')

	switch v := f.Value.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		writeJSONString(buf, v)
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		fmt.Fprintf(buf, "%d", v)
	case int64:
		fmt.Fprintf(buf, "%d", v)
	case float64:
		fmt.Fprintf(buf, "%g", v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			writeJSONString(buf, fmt.Sprintf("%v", v))
			return
		}
		buf.Write(data)
	}
}

// writeJSONString writes s as a JSON string literal. json.Marshal on a
// string cannot fail, so the error is ignored.
func writeJSONString(buf *bytes.Buffer, s string) {
	data, _ := json.Marshal(s)
	buf.Write(data)
}
