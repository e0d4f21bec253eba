// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package sylog is the process-wide diagnostic logger. Every launcher
// writes diagnostics to standard error tagged with program name, host,
// pid, timestamp, message and source location (spec §7); levels are
// colorized when attached to a terminal.
package sylog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
)

// Level identifies a diagnostic severity.
type Level int32

// Recognized levels, ordered from least to most verbose. GetLevel/SetLevel
// use the same integer scale: a message prints when its level is at or
// below the current one. Negative values drop info output and then, step
// by step, warnings and errors (FatalLevel leaves only fatal errors); 0
// is the default (error/warning/info); positive adds verbose/debug detail.
const (
	FatalLevel    Level = -4
	ErrorLevel    Level = -3
	WarnLevel     Level = -2
	LogLevel      Level = -1
	InfoLevel     Level = 0
	VerboseLevel  Level = 1
	Verbose2Level Level = 2
	DebugLevel    Level = 3
)

var (
	currentLevel int32
	useColor     int32 = 1
	out          io.Writer = os.Stderr
	progName               = filepath.Base(os.Args[0])
)

// SetLevel sets the process-wide log level and whether output is
// colorized.
func SetLevel(level int, color bool) {
	atomic.StoreInt32(&currentLevel, int32(level))
	c := int32(0)
	if color {
		c = 1
	}
	atomic.StoreInt32(&useColor, c)
}

// GetLevel returns the current process-wide log level.
func GetLevel() int {
	return int(atomic.LoadInt32(&currentLevel))
}

// Writer returns the destination diagnostics are written to.
func Writer() io.Writer {
	return out
}

// SetWriter overrides the destination diagnostics are written to; intended
// for tests.
func SetWriter(w io.Writer) {
	out = w
}

func levelEnabled(l Level) bool {
	return int32(l) <= atomic.LoadInt32(&currentLevel)
}

func tag(l Level) (string, *color.Color) {
	switch l {
	case FatalLevel:
		return "FATAL", color.New(color.FgRed, color.Bold)
	case ErrorLevel:
		return "ERROR", color.New(color.FgRed)
	case WarnLevel:
		return "WARNING", color.New(color.FgYellow)
	case LogLevel, InfoLevel:
		return "INFO", color.New(color.FgCyan)
	case VerboseLevel, Verbose2Level:
		return "VERBOSE", color.New(color.FgBlue)
	default:
		return "DEBUG", color.New(color.FgGreen)
	}
}

func callerLoc(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func write(l Level, format string, args []interface{}) {
	if !levelEnabled(l) {
		return
	}
	tagStr, c := tag(l)
	msg := fmt.Sprintf(format, args...)
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	prefix := fmt.Sprintf("%-8s", tagStr+":")
	if atomic.LoadInt32(&useColor) == 1 {
		prefix = c.Sprintf("%-8s", tagStr+":")
	}
	fmt.Fprintf(out, "%s%s[%s:%s] %s (%s) %s\n",
		prefix, progName, host, strconv.Itoa(os.Getpid()),
		time.Now().Format(time.RFC3339), callerLoc(3), msg)
}

// Debugf logs at DebugLevel.
func Debugf(format string, args ...interface{}) { write(DebugLevel, format, args) }

// Verbosef logs at VerboseLevel.
func Verbosef(format string, args ...interface{}) { write(VerboseLevel, format, args) }

// Infof logs at InfoLevel.
func Infof(format string, args ...interface{}) { write(InfoLevel, format, args) }

// Warningf logs at WarnLevel.
func Warningf(format string, args ...interface{}) { write(WarnLevel, format, args) }

// Errorf logs at ErrorLevel.
func Errorf(format string, args ...interface{}) { write(ErrorLevel, format, args) }

// Fatalf logs at FatalLevel and terminates the process with exit status 1,
// per spec §7 ("all other kinds terminate the entire job").
func Fatalf(format string, args ...interface{}) {
	write(FatalLevel, format, args)
	os.Exit(1)
}
