// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package testlog creates loggers backed by testing.T to ease logging in
// tests.
package testlog

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
)

// LogPrinter is the methods of testing.T (or testing.B) needed by the test
// logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a Logger.
type writer struct {
	prefix string
	t      LogPrinter
}

// Write to an underlying Logger. Never returns an error.
func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s%s", w.prefix, p)
	return len(p), nil
}

// NewWriter creates a new io.Writer backed by a Logger.
func NewWriter(t LogPrinter) io.Writer {
	return &writer{t: t}
}

// NewPrefixWriter creates a new io.Writer backed by a Logger with a custom
// prefix per Write.
func NewPrefixWriter(t LogPrinter, prefix string) io.Writer {
	return &writer{prefix, t}
}

// New returns a new test logger with the "TEST" prefix and the Lmicroseconds
// flag.
func New(t LogPrinter) *log.Logger {
	return log.New(NewWriter(t), "TEST ", log.Lmicroseconds)
}

// HCLogger returns a new test hc-logger.
//
// Default log level is TRACE. Set AI_RUN_TEST_LOG_LEVEL for custom log level.
func HCLogger(t LogPrinter) hclog.InterceptLogger {
	logger, _ := HCLoggerNode(t, -1)
	return logger
}

// HCLoggerTestLevel returns the level in which hc log should emit logs.
//
// Default log level is TRACE. Set AI_RUN_TEST_LOG_LEVEL for custom log level.
func HCLoggerTestLevel() hclog.Level {
	level := hclog.Trace
	envLogLevel := os.Getenv("AI_RUN_TEST_LOG_LEVEL")
	if envLogLevel != "" {
		level = hclog.LevelFromString(envLogLevel)
	}
	return level
}

// HCLoggerNode returns a new hc-logger, but with a prefix indicating the node
// number on each log line. Useful for multi-process tests where a child and
// its controller share the test output.
//
// The returned buffer holds a copy of everything logged, so tests can assert
// on warnings emitted by degraded paths.
func HCLoggerNode(t LogPrinter, node int32) (hclog.InterceptLogger, *Buffer) {
	var output io.Writer = NewWriter(t)
	if node > -1 {
		output = NewPrefixWriter(t, fmt.Sprintf("node-%d ", node))
	}
	buf := new(Buffer)
	opts := &hclog.LoggerOptions{
		Level:           HCLoggerTestLevel(),
		Output:          io.MultiWriter(output, buf),
		IncludeLocation: true,
	}
	return hclog.NewInterceptLogger(opts), buf
}

// Buffer collects log output for later inspection.
type Buffer struct {
	l sync.Mutex
	b bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.l.Lock()
	defer b.l.Unlock()
	return b.b.Write(p)
}

// Contains reports whether any logged line contains s.
func (b *Buffer) Contains(s string) bool {
	return strings.Contains(b.String(), s)
}

// String returns everything logged so far.
func (b *Buffer) String() string {
	b.l.Lock()
	defer b.l.Unlock()
	return b.b.String()
}
