package events

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arcmill/arcmill/internal/config"
)

// LogLevel represents logging severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Level tags keep their own color state; the logger gates on its
// terminal check, not the package-global toggle.
var levelColors = map[LogLevel]*color.Color{
	DebugLevel: color.New(color.FgCyan),
	InfoLevel:  color.New(color.FgGreen),
	WarnLevel:  color.New(color.FgYellow),
	ErrorLevel: color.New(color.FgRed),
}

func init() {
	for _, c := range levelColors {
		c.EnableColor()
	}
}

// Logger provides structured logging in text or JSON form. Child
// loggers from WithField share the parent's output and differ only in
// their bound fields.
type Logger struct {
	mu        sync.Mutex
	level     LogLevel
	format    string
	output    io.Writer
	fields    map[string]interface{}
	color     bool
	timestamp bool
}

// NewLogger builds a logger from config. File output rotates by size,
// count, and age; stdout output colorizes level tags when the config
// asks for color and stdout is a terminal.
func NewLogger(cfg *config.LogConfig) (*Logger, error) {
	var output io.Writer = os.Stdout
	toFile := cfg.File != ""
	if toFile {
		output = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
	}

	return &Logger{
		level:     parseLevel(cfg.Level),
		format:    cfg.Format,
		output:    output,
		fields:    make(map[string]interface{}),
		color:     cfg.Color && !toFile && isatty.IsTerminal(os.Stdout.Fd()),
		timestamp: cfg.Timestamp,
	}, nil
}

// NewTestLogger creates a plain logger for tests.
func NewTestLogger(level LogLevel, format string, output io.Writer) *Logger {
	return &Logger{
		level:     level,
		format:    format,
		output:    output,
		fields:    make(map[string]interface{}),
		timestamp: true,
	}
}

// WithField returns a child logger with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a child logger with additional fields. Existing
// keys are overwritten.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{
		level:     l.level,
		format:    l.format,
		output:    l.output,
		fields:    merged,
		color:     l.color,
		timestamp: l.timestamp,
	}
}

// WithError adds the error's message as a field. A nil error returns
// the logger unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string) {
	l.log(DebugLevel, msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string) {
	l.log(InfoLevel, msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string) {
	l.log(WarnLevel, msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string) {
	l.log(ErrorLevel, msg)
}

func (l *Logger) log(level LogLevel, msg string) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.newEntry(level, msg)
	if l.format == "json" {
		l.writeJSON(e)
	} else {
		l.writeText(e)
	}
}

type field struct {
	key   string
	value interface{}
}

type entry struct {
	time   time.Time
	level  LogLevel
	msg    string
	caller string
	fields []field
}

// newEntry snapshots the bound fields in sorted order. Caller lookup
// is not free, so only debug-level loggers pay for it.
func (l *Logger) newEntry(level LogLevel, msg string) entry {
	e := entry{time: time.Now().UTC(), level: level, msg: msg}

	if l.level == DebugLevel {
		if _, file, line, ok := runtime.Caller(3); ok {
			e.caller = fmt.Sprintf("%s:%d", path.Base(file), line)
		}
	}

	e.fields = make([]field, 0, len(l.fields))
	for k, v := range l.fields {
		e.fields = append(e.fields, field{key: k, value: v})
	}
	sort.Slice(e.fields, func(i, j int) bool { return e.fields[i].key < e.fields[j].key })
	return e
}

// writeJSON emits one object per line, keys in a fixed head order so
// lines diff and grep cleanly.
func (l *Logger) writeJSON(e entry) {
	var sb strings.Builder
	sb.Grow(128)

	sb.WriteString(`{"time":"`)
	sb.WriteString(e.time.Format(time.RFC3339Nano))
	sb.WriteString(`","level":"`)
	sb.WriteString(levelString(e.level))
	sb.WriteString(`","msg":"`)
	sb.WriteString(escapeJSON(e.msg))
	sb.WriteByte('"')

	if e.caller != "" {
		sb.WriteString(`,"caller":"`)
		sb.WriteString(escapeJSON(e.caller))
		sb.WriteByte('"')
	}

	for _, f := range e.fields {
		sb.WriteString(`,"`)
		sb.WriteString(escapeJSON(f.key))
		sb.WriteString(`":`)
		sb.WriteString(encodeValue(f.value))
	}

	sb.WriteString("}\n")
	_, _ = io.WriteString(l.output, sb.String())
}

func (l *Logger) writeText(e entry) {
	var sb strings.Builder

	if l.timestamp {
		sb.WriteString(e.time.Format("2006-01-02 15:04:05.000"))
		sb.WriteByte(' ')
	}

	tag := "[" + strings.ToUpper(levelString(e.level)) + "]"
	if l.color {
		tag = levelColors[e.level].Sprint(tag)
	}
	sb.WriteString(tag)
	sb.WriteByte(' ')
	sb.WriteString(e.msg)

	if e.caller != "" {
		sb.WriteString(" (")
		sb.WriteString(e.caller)
		sb.WriteByte(')')
	}

	for _, f := range e.fields {
		fmt.Fprintf(&sb, " %s=%v", f.key, f.value)
	}

	sb.WriteByte('\n')
	_, _ = io.WriteString(l.output, sb.String())
}

func encodeValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return `"` + escapeJSON(val) + `"`
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", val)
	case time.Duration:
		return `"` + val.String() + `"`
	case error:
		return `"` + escapeJSON(val.Error()) + `"`
	default:
		return `"` + escapeJSON(fmt.Sprintf("%v", val)) + `"`
	}
}

func escapeJSON(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

func parseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func levelString(l LogLevel) string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}
