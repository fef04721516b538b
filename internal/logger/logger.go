// Package logger provides the leveled logging used across the monitor.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelPrefix = map[Level]string{
	DebugLevel: "[DEBUG] ",
	InfoLevel:  "[INFO] ",
	WarnLevel:  "[WARN] ",
	ErrorLevel: "[ERROR] ",
}

// Logger writes leveled messages through a standard log.Logger.
type Logger struct {
	level  Level
	logger *log.Logger
}

var defaultLogger *Logger

// Init initializes the default logger. level is one of debug, info,
// warn, error (unknown values fall back to info); the "text" format
// adds source locations.
func Init(level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	defaultLogger = &Logger{
		level:  parseLevel(level),
		logger: log.New(os.Stderr, "", flags),
	}
}

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
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

// output is the single write path. calldepth 3 attributes the line to
// the package-level helper's caller.
func output(l Level, format string, args ...interface{}) {
	if defaultLogger == nil || defaultLogger.level > l {
		return
	}
	_ = defaultLogger.logger.Output(3, fmt.Sprintf(levelPrefix[l]+format, args...))
}

func Debug(format string, args ...interface{}) { output(DebugLevel, format, args...) }

func Info(format string, args ...interface{}) { output(InfoLevel, format, args...) }

func Warn(format string, args ...interface{}) { output(WarnLevel, format, args...) }

func Error(format string, args ...interface{}) { output(ErrorLevel, format, args...) }

// Fatal logs regardless of level and exits the process.
func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		_ = defaultLogger.logger.Output(2, fmt.Sprintf("[FATAL] "+format, args...))
	}
	os.Exit(1)
}
