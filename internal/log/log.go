// Package log is a minimal level-gated logger in the style of go-amqp's
// internal/debug package: no third-party structured logging dependency,
// just a verbosity-gated wrapper around the standard library logger. The
// teacher makes the same choice for this concern, so we carry it forward
// rather than introducing a new ambient dependency.
package log

import (
	"log"
	"os"
	"strconv"
)

// Level is the verbosity threshold. Higher numbers are more verbose.
var level = func() int {
	v, _ := strconv.Atoi(os.Getenv("GOSBRECEIVER_DEBUG"))
	return v
}()

var std = log.New(os.Stderr, "gosbreceiver: ", log.LstdFlags|log.Lmicroseconds)

// Debug logs format/args if the configured verbosity is >= lvl.
func Debug(lvl int, format string, args ...any) {
	if lvl > level {
		return
	}
	std.Printf(format, args...)
}

// SetLevel overrides the verbosity threshold; intended for tests.
func SetLevel(lvl int) { level = lvl }
