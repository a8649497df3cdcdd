package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/rs/zerolog"
)

// Level is the severity of a log event.
type Level string

const (
	LevelTrace Level = "TRACE"
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Fields are the structured attributes attached to a log event.
type Fields map[string]interface{}

// LogEvent is one structured log record.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	Fields    Fields    `json:"fields"`
}

// EventRecorder receives a copy of every INFO or higher event.
type EventRecorder interface {
	RecordEvent(ev LogEvent)
}

var setupOnce sync.Once

// configureZerolog pins the global field names to the JSON event shape.
func configureZerolog() {
	setupOnce.Do(func() {
		zerolog.TimestampFieldName = "timestamp"
		zerolog.LevelFieldName = "level"
		zerolog.MessageFieldName = "message"
		zerolog.TimeFieldFormat = time.RFC3339Nano
		zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
			if l == zerolog.WarnLevel {
				return string(LevelWarn)
			}
			return strings.ToUpper(l.String())
		}
	})
}

// Logger is the process log sink. It wraps zerolog and is the only place
// that knows whether events are rendered as JSON or as console text.
type Logger struct {
	zlog     zerolog.Logger
	config   LoggingConfig
	module   string
	fields   Fields
	json     bool
	recorder EventRecorder
	now      func() time.Time
}

// NewLogger creates a new logger with the given configuration. JSON output
// goes to stdout, console output to stderr.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	configureZerolog()

	var writer io.Writer
	switch cfg.Format {
	case "json":
		writer = os.Stdout
	case "console", "":
		writer = os.Stderr
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
	if cfg.Writer != nil {
		writer = cfg.Writer
	}

	isJSON := cfg.Format == "json"
	if !isJSON {
		noColor := cfg.NoColor || os.Getenv("NO_COLOR") != ""
		if f, ok := writer.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
			noColor = true
		} else if !ok {
			noColor = true
		}
		writer = newConsoleWriter(writer, noColor)
	}

	zlog := zerolog.New(writer).Level(parseLogLevel(cfg.Level))

	return &Logger{
		zlog:   zlog,
		config: cfg,
		module: "sysmaint",
		json:   isJSON,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// newConsoleWriter renders events as "[LEVEL] message key=value".
func newConsoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       noColor,
		PartsOrder:    []string{zerolog.LevelFieldName, zerolog.MessageFieldName},
		PartsExclude:  []string{zerolog.TimestampFieldName},
		FieldsExclude: []string{"module"},
		FormatLevel: func(i interface{}) string {
			lvl, _ := i.(string)
			tag := "[" + lvl + "]"
			if noColor {
				return tag
			}
			return ansi.Color(tag, levelColor(Level(lvl)))
		},
	}
}

func levelColor(l Level) string {
	switch l {
	case LevelError:
		return "red+b"
	case LevelWarn:
		return "yellow+b"
	case LevelInfo:
		return "green"
	case LevelDebug:
		return "cyan"
	default:
		return "white"
	}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	configureZerolog()
	return &Logger{
		zlog:   zerolog.Nop(),
		module: "sysmaint",
		json:   true,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Logger) clone() *Logger {
	c := *l
	c.fields = make(Fields, len(l.fields))
	for k, v := range l.fields {
		c.fields[k] = v
	}
	return &c
}

// NewComponentLogger creates a child logger whose events carry module.
func (l *Logger) NewComponentLogger(module string) *Logger {
	c := l.clone()
	c.module = module
	return c
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	c := l.clone()
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Fields{key: value})
}

// WithRecorder returns a logger that also hands events to r.
func (l *Logger) WithRecorder(r EventRecorder) *Logger {
	c := l.clone()
	c.recorder = r
	return c
}

// Module returns the module name stamped on events.
func (l *Logger) Module() string {
	return l.module
}

// Enabled reports whether events at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return toZerologLevel(level) >= l.zlog.GetLevel()
}

// Emit writes ev, filling in the module and timestamp when unset.
func (l *Logger) Emit(ev LogEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if ev.Module == "" {
		ev.Module = l.module
	}
	merged := make(Fields, len(l.fields)+len(ev.Fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range ev.Fields {
		merged[k] = v
	}
	ev.Fields = merged

	zl := toZerologLevel(ev.Level)
	e := l.zlog.WithLevel(zl)
	if e != nil {
		e = e.Time(zerolog.TimestampFieldName, ev.Timestamp).Str("module", ev.Module)
		if l.json {
			e = e.Dict("fields", zerolog.Dict().Fields(map[string]interface{}(merged)))
		} else {
			e = e.Fields(map[string]interface{}(merged))
		}
		e.Msg(ev.Message)
	}

	if l.recorder != nil && zl >= zerolog.InfoLevel {
		l.recorder.RecordEvent(ev)
	}
}

func (l *Logger) log(level Level, msg string, fields []Fields) {
	ev := LogEvent{Level: level, Message: msg}
	if len(fields) > 0 {
		ev.Fields = make(Fields)
		for _, f := range fields {
			for k, v := range f {
				ev.Fields[k] = v
			}
		}
	}
	l.Emit(ev)
}

// Trace logs a trace-level message.
func (l *Logger) Trace(msg string, fields ...Fields) {
	l.log(LevelTrace, msg, fields)
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(LevelDebug, msg, fields)
}

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, fmt.Sprintf(format, args...), nil)
}

// Info logs an info-level message.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(LevelInfo, msg, fields)
}

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(LevelWarn, msg, fields)
}

// Warnf logs a formatted warning-level message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, fmt.Sprintf(format, args...), nil)
}

// Error logs an error-level message.
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(LevelError, msg, fields)
}

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...), nil)
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func toZerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
