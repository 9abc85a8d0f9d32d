package logs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Level string

const (
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
	DEBUG Level = "DEBUG"
)

// levelPriority defines the priority of each log level
// higher value= more severe
var levelPriority = map[Level]int{
	DEBUG: 1,
	INFO:  2,
	WARN:  3,
	ERROR: 4,
}

var slogLevels = map[Level]slog.Level{
	DEBUG: slog.LevelDebug,
	INFO:  slog.LevelInfo,
	WARN:  slog.LevelWarn,
	ERROR: slog.LevelError,
}

// ParseLevel maps a config string onto a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(s) {
	case DEBUG, INFO, WARN, ERROR:
		return Level(s)
	}
	return INFO
}

type Entry struct {
	TimeStamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type Logger struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
	level   Level
	out     *slog.Logger
}

// Option customizes a Logger.
type Option func(*Logger)

// WithSlog forwards every accepted entry to out as well as the ring buffer.
func WithSlog(out *slog.Logger) Option {
	return func(l *Logger) {
		l.out = out
	}
}

// level: minimum log level to record(e.g., INFO, WARN, ERROR,DEBUG)
//
// maxsize:maximum number of log entries kept in memory
func NewLogger(maxSize int, level Level, opts ...Option) *Logger {
	l := &Logger{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		level:   level,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// log is the internal logging function
// it applies level filtering and ring buffer behavior
func (l *Logger) log(level Level, msg string, args []any) {
	//filter logs below the current level
	if levelPriority[level] < levelPriority[l.level] {
		return
	}

	entry := Entry{
		TimeStamp: time.Now(),
		Level:     level,
		Message:   msg,
		Fields:    fields(args),
	}

	l.mu.Lock()
	if len(l.entries) >= l.maxSize {
		//remove oldest entry(ring behavior)
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	if l.out != nil {
		l.out.Log(context.Background(), slogLevels[level], msg, args...)
	}
}

// fields pairs up slog-style key/value args. A dangling value is kept
// under "!BADKEY", as slog does.
func fields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			out["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			out[key] = err.Error()
			continue
		}
		out[key] = args[i+1]
	}
	return out
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(DEBUG, msg, args)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(INFO, msg, args)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(WARN, msg, args)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(ERROR, msg, args)
}

func (l *Logger) GetLast(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > len(l.entries) {
		out := make([]Entry, len(l.entries))
		copy(out, l.entries)
		return out
	}

	start := len(l.entries) - n
	out := make([]Entry, n)
	copy(out, l.entries[start:])
	return out
}
