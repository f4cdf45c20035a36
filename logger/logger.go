package logger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level type
type Level uint32

const (
	// ErrorLevel level. Used for errors that should definitely be noted.
	ErrorLevel Level = iota
	// WarnLevel level. Non-critical entries that deserve eyes.
	WarnLevel
	// InfoLevel level. General operational entries about connections and subscriptions.
	InfoLevel
	// DebugLevel level. Usually only enabled when debugging. Very verbose logging.
	DebugLevel
	// TraceLevel level. Every frame read or written on the cable.
	TraceLevel
)

var LevelMap = map[Level]string{
	ErrorLevel: "error",
	WarnLevel:  "warn",
	InfoLevel:  "info",
	DebugLevel: "debug",
	TraceLevel: "trace",
}

// String returns the level name
func (l Level) String() string {
	if s, ok := LevelMap[l]; ok {
		return s
	}
	return "unknown"
}

type LogPayload struct {
	Level   Level
	Fields  map[string]interface{}
	Error   error
	Message string
}

type LogFunc func(payload LogPayload)

func NoopLogFunc(payload LogPayload) {}

func NewNoopLogger() *LogWrapper {
	return NewLogWrapper(NoopLogFunc, map[string]interface{}{})
}

// NewSimpleLogFunc returns a logfmt style logging func that writes to stdout
func NewSimpleLogFunc(level Level) LogFunc {
	return func(payload LogPayload) {
		if level < payload.Level {
			return
		}
		fmt.Println(formatPayload(payload))
	}
}

func formatPayload(payload LogPayload) string {
	fields := []string{}
	m := map[string]interface{}{}
	keys := []string{"msg", "level"}

	for k, v := range payload.Fields {
		if k != "msg" && k != "level" && k != "error" {
			keys = append(keys, k)
			m[k] = v
		}
	}

	m["msg"] = payload.Message
	m["level"] = payload.Level.String()

	if payload.Error != nil {
		keys = append(keys, "error")
		m["error"] = payload.Error.Error()
	}

	sort.Strings(keys)

	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%q", k, fmt.Sprint(m[k])))
	}

	return strings.Join(fields, " ")
}

// NewLogrusLogFunc returns a logging func backed by a logrus logger
func NewLogrusLogFunc(l logrus.FieldLogger) LogFunc {
	return func(payload LogPayload) {
		entry := l.WithFields(logrus.Fields(payload.Fields))
		if payload.Error != nil {
			entry = entry.WithError(payload.Error)
		}

		switch payload.Level {
		case ErrorLevel:
			entry.Error(payload.Message)
		case WarnLevel:
			entry.Warn(payload.Message)
		case InfoLevel:
			entry.Info(payload.Message)
		case DebugLevel:
			entry.Debug(payload.Message)
		default:
			entry.Trace(payload.Message)
		}
	}
}

type LogWrapper struct {
	LogFunc LogFunc
	Fields  map[string]interface{}
	Error   error
}

// NewLogWrapper returns a new log wrapper
func NewLogWrapper(logFunc LogFunc, fields map[string]interface{}) *LogWrapper {
	if logFunc == nil {
		logFunc = NoopLogFunc
	}

	if fields == nil {
		fields = map[string]interface{}{}
	}

	return &LogWrapper{
		LogFunc: logFunc,
		Fields:  fields,
	}
}

// clone clones a log wrapper to iteratively build the log
func (l *LogWrapper) clone() *LogWrapper {
	newWrapper := &LogWrapper{
		LogFunc: l.LogFunc,
		Error:   l.Error,
		Fields:  make(map[string]interface{}, len(l.Fields)+1),
	}

	for k, v := range l.Fields {
		newWrapper.Fields[k] = v
	}

	return newWrapper
}

func (l *LogWrapper) WithError(err error) *LogWrapper {
	newWrapper := l.clone()
	newWrapper.Error = err
	return newWrapper
}

func (l *LogWrapper) WithField(key string, value interface{}) *LogWrapper {
	newWrapper := l.clone()
	newWrapper.Fields[key] = value
	return newWrapper
}

func (l *LogWrapper) WithFields(fields map[string]interface{}) *LogWrapper {
	newWrapper := l.clone()
	for k, v := range fields {
		newWrapper.Fields[k] = v
	}
	return newWrapper
}

func (l *LogWrapper) log(level Level, format string, v ...interface{}) {
	l.LogFunc(LogPayload{
		Level:   level,
		Fields:  l.Fields,
		Error:   l.Error,
		Message: fmt.Sprintf(format, v...),
	})
}

func (l *LogWrapper) Tracef(format string, v ...interface{}) {
	l.log(TraceLevel, format, v...)
}

func (l *LogWrapper) Debugf(format string, v ...interface{}) {
	l.log(DebugLevel, format, v...)
}

func (l *LogWrapper) Infof(format string, v ...interface{}) {
	l.log(InfoLevel, format, v...)
}

func (l *LogWrapper) Warnf(format string, v ...interface{}) {
	l.log(WarnLevel, format, v...)
}

func (l *LogWrapper) Errorf(format string, v ...interface{}) {
	l.log(ErrorLevel, format, v...)
}
