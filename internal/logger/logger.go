package logger

import (
	"log"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
)

// Logger is a thin leveled wrapper over the standard logger. Components get
// their own tagged view via WithTag so one sink serves the whole unit.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	tag    string
}

func NewLogger(logger *log.Logger, level LogLevel) *Logger {
	return &Logger{
		logger: logger,
		level:  level,
	}
}

// WithTag creates a new logger whose messages are prefixed with [tag].
func (l *Logger) WithTag(tag string) *Logger {
	return &Logger{
		logger: l.logger,
		level:  l.level,
		tag:    tag,
	}
}

func (l *Logger) format(level string, format string) string {
	msg := format
	if level != "" {
		msg = level + " " + msg
	}
	if l.tag != "" {
		msg = "[" + l.tag + "] " + msg
	}
	return msg
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.level >= LogLevelDebug && l.logger != nil {
		l.logger.Printf(l.format("DEBUG:", format), v...)
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l.level >= LogLevelInfo && l.logger != nil {
		l.logger.Printf(l.format("", format), v...)
	}
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	if l.level >= LogLevelWarning && l.logger != nil {
		l.logger.Printf(l.format("WARN:", format), v...)
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.level >= LogLevelError && l.logger != nil {
		l.logger.Printf(l.format("ERROR:", format), v...)
	}
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Fatalf(l.format("FATAL:", format), v...)
	}
}
