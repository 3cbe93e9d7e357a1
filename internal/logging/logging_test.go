// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import "testing"

func TestSetDebugToggle(t *testing.T) {
	SetDebug(true)
	if !debugEnabled.Load() {
		t.Fatal("expected debug enabled after SetDebug(true)")
	}
	SetDebug(false)
	if debugEnabled.Load() {
		t.Fatal("expected debug disabled after SetDebug(false)")
	}
}

func TestLogFuncsDoNotPanic(t *testing.T) {
	SetDebug(true)
	Debug("debug %d", 1)
	Info("info %s", "x")
	Warn("warn")
	Error("error: %v", "boom")
}
