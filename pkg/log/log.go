// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the leveled, per-source logger used throughout the
// resource manager. Every subsystem obtains its own named logger with Get,
// so messages can be attributed to the scheduler, the accounter, the
// synchronization manager and so on without threading a logger instance
// through every constructor.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level is the log message severity below which messages are suppressed.
type Level int32

const (
	// LevelDebug corresponds to debug messages.
	LevelDebug Level = iota
	// LevelInfo corresponds to informational messages.
	LevelInfo
	// LevelWarn corresponds to warning messages.
	LevelWarn
	// LevelError corresponds to error messages.
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger is the interface for emitting log messages from a named source.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Fatal(format string, args ...interface{})

	DebugEnabled() bool
	Block(fn func(string, ...interface{}), prefix, format string, args ...interface{})
}

// Backend is an entity capable of emitting already-formatted messages.
type Backend interface {
	Name() string
	Emit(level Level, source, message string)
}

type logger struct {
	source string
}

var (
	mutex    sync.RWMutex
	level    = LevelInfo
	debugSrc = map[string]bool{}
	active   Backend = &fmtBackend{}
	loggers          = map[string]*logger{}
)

// Get returns the named logger, creating it on first use.
func Get(source string) Logger {
	source = strings.Trim(source, "[] ")

	mutex.Lock()
	defer mutex.Unlock()
	if l, ok := loggers[source]; ok {
		return l
	}
	l := &logger{source: source}
	loggers[source] = l
	return l
}

// SetLevel adjusts the global severity threshold.
func SetLevel(l Level) {
	mutex.Lock()
	defer mutex.Unlock()
	level = l
}

// EnableDebug turns on debug messages for the given source, or every
// source when called with "".
func EnableDebug(source string) {
	mutex.Lock()
	defer mutex.Unlock()
	debugSrc[source] = true
}

// SetBackend installs the backend used to emit formatted messages.
func SetBackend(b Backend) {
	mutex.Lock()
	defer mutex.Unlock()
	active = b
}

func (l *logger) debugEnabled() bool {
	mutex.RLock()
	defer mutex.RUnlock()
	return debugSrc[l.source] || debugSrc[""]
}

func (l *logger) passthrough(lvl Level) bool {
	mutex.RLock()
	defer mutex.RUnlock()
	return lvl >= level
}

func (l *logger) emit(lvl Level, format string, args ...interface{}) {
	mutex.RLock()
	b := active
	mutex.RUnlock()
	b.Emit(lvl, l.source, fmt.Sprintf(format, args...))
}

func (l *logger) DebugEnabled() bool { return l.debugEnabled() }

func (l *logger) Debug(format string, args ...interface{}) {
	if !l.debugEnabled() {
		return
	}
	l.emit(LevelDebug, format, args...)
}

func (l *logger) Info(format string, args ...interface{}) {
	if !l.passthrough(LevelInfo) {
		return
	}
	l.emit(LevelInfo, format, args...)
}

func (l *logger) Warn(format string, args ...interface{}) {
	if !l.passthrough(LevelWarn) {
		return
	}
	l.emit(LevelWarn, format, args...)
}

func (l *logger) Error(format string, args ...interface{}) {
	if !l.passthrough(LevelError) {
		return
	}
	l.emit(LevelError, format, args...)
}

func (l *logger) Fatal(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
	os.Exit(1)
}

// Block emits a multi-line message one line at a time through fn, prefixing
// every line. Handy for dumping a resource tree or a scheduling decision
// table without losing per-line attribution.
func (l *logger) Block(fn func(string, ...interface{}), prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		fn("%s%s", prefix, line)
	}
}

// Default returns the logger for the running binary itself.
func Default() Logger {
	return Get(filepath.Base(filepath.Clean(os.Args[0])))
}

// fmtBackend is the built-in fallback backend, printing to stderr.
type fmtBackend struct{}

var _ Backend = &fmtBackend{}

func (f *fmtBackend) Name() string { return "fmt" }

func (f *fmtBackend) Emit(level Level, source, message string) {
	tag := map[Level]string{LevelDebug: "D", LevelInfo: "I", LevelWarn: "W", LevelError: "E"}[level]
	fmt.Fprintf(os.Stderr, "%s: [%s] %s\n", tag, source, message)
}
