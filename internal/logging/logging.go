// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides tagged, leveled logging for the netvisor
// pipeline. It wraps the standard library "log" package the way the rest
// of the codebase does, rather than pulling in a structured-logging
// library the handlers never need.
package logging

import (
	"log"
	"os"
	"sync/atomic"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

// debugEnabled gates Debug() output process-wide; toggled by SetDebug,
// which main calls with the -debug command-line flag.
var debugEnabled atomic.Bool

// SetDebug enables or disables Debug-level output.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// Debug logs a debug-level message when debug output is enabled.
func Debug(format string, args ...any) {
	if debugEnabled.Load() {
		std.Printf("[DEBUG] "+format, args...)
	}
}

// Info logs an informational message.
func Info(format string, args ...any) {
	std.Printf("[INFO] "+format, args...)
}

// Warn logs a warning message.
func Warn(format string, args ...any) {
	std.Printf("[WARN] "+format, args...)
}

// Error logs an error message.
func Error(format string, args ...any) {
	std.Printf("[ERROR] "+format, args...)
}
