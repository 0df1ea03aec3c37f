// Package logger is the component-scoped structured logger used across
// dotrecall. Every entry carries a "component" field.
package logger

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel is the minimum level that is emitted.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel changes the minimum emitted level.
func SetLevel(level LogLevel) {
	switch level {
	case DEBUG:
		base.SetLevel(logrus.DebugLevel)
	case WARN:
		base.SetLevel(logrus.WarnLevel)
	case ERROR:
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// level, defaulting to INFO.
func ParseLevel(raw string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetJSON switches between JSON and text output.
func SetJSON(enabled bool) {
	if enabled {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetOutput redirects log output. The MCP stdio server uses it to keep
// stdout clean.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

func entry(component string, fields map[string]interface{}) *logrus.Entry {
	e := base.WithField("component", component)
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	return e
}

func DebugC(component, msg string) { entry(component, nil).Debug(msg) }
func InfoC(component, msg string)  { entry(component, nil).Info(msg) }
func WarnC(component, msg string)  { entry(component, nil).Warn(msg) }
func ErrorC(component, msg string) { entry(component, nil).Error(msg) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	entry(component, fields).Debug(msg)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	entry(component, fields).Info(msg)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	entry(component, fields).Warn(msg)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	entry(component, fields).Error(msg)
}
