// Package log provides a global logger with configurable logging level. Components that own an
// event loop log through a tagged [Logger] so that interleaved output from several profile
// services can be told apart.

package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anamolies that are not expected to occur during normal use.
	LevelWarning              // Logs anamolies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs state transitions and policy decisions.
	LevelDebug                // Logs every processed message.
)

var globalLogLevel = LevelInfo
var logMutex sync.Mutex

var labels = map[Level]string{
	LevelDebug:   "[debug]",
	LevelInfo:    "[info ]",
	LevelWarning: "[warn ]",
	LevelError:   "[error]",
}

var levelNames = map[string]Level{
	"none":    LevelNone,
	"error":   LevelError,
	"warn":    LevelWarning,
	"warning": LevelWarning,
	"info":    LevelInfo,
	"debug":   LevelDebug,
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLogLevel = level
}

// ParseLevel converts a configuration string ("debug", "info", "warn", "error" or "none") into
// a Level.
func ParseLevel(name string) (Level, error) {
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return LevelNone, fmt.Errorf("unknown log level '%s'", name)
	}
	return level, nil
}

func logLevel() Level {
	logMutex.Lock()
	defer logMutex.Unlock()
	return globalLogLevel
}

func log(level Level, tag string, format string, a ...interface{}) {
	if level <= logLevel() {
		msg := fmt.Sprintf("%s %s ", time.Now().Format(time.RFC3339), labels[level])
		if tag != "" {
			msg += "[" + tag + "] "
		}
		msg += fmt.Sprintf(format, a...)
		logMutex.Lock()
		fmt.Fprintln(os.Stderr, msg)
		logMutex.Unlock()
	}
}

func Debug(format string, a ...interface{}) {
	log(LevelDebug, "", format, a...)
}
func Info(format string, a ...interface{}) {
	log(LevelInfo, "", format, a...)
}
func Warning(format string, a ...interface{}) {
	log(LevelWarning, "", format, a...)
}
func Error(format string, a ...interface{}) {
	log(LevelError, "", format, a...)
}

// Logger prefixes every message with a fixed tag, e.g. the name of the profile service that
// emitted it.
type Logger struct {
	tag string
}

// Tag returns a Logger that writes through the global logger with the given tag.
func Tag(tag string) Logger {
	return Logger{tag: tag}
}

// With returns a Logger whose tag extends l's tag with sub.
func (l Logger) With(sub string) Logger {
	if l.tag == "" {
		return Logger{tag: sub}
	}
	return Logger{tag: l.tag + "/" + sub}
}

func (l Logger) Debug(format string, a ...interface{}) {
	log(LevelDebug, l.tag, format, a...)
}
func (l Logger) Info(format string, a ...interface{}) {
	log(LevelInfo, l.tag, format, a...)
}
func (l Logger) Warning(format string, a ...interface{}) {
	log(LevelWarning, l.tag, format, a...)
}
func (l Logger) Error(format string, a ...interface{}) {
	log(LevelError, l.tag, format, a...)
}
