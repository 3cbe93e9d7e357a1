// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nverrors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindConfig, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindParse, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindConfig, "invalid input")
	if GetKind(err) != KindConfig {
		t.Errorf("expected KindConfig, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindIO, "failed")
	if GetKind(wrapped) != KindIO {
		t.Errorf("expected KindIO, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestWrapUnwrapsToCause(t *testing.T) {
	cause := errors.New("device busy")
	wrapped := Wrap(cause, KindCaptureOpen, "open eth0")

	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to see through to cause")
	}
	if errors.Unwrap(wrapped) != cause {
		t.Errorf("expected Unwrap to return cause, got %v", errors.Unwrap(wrapped))
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if Wrap(nil, KindIO, "ignored") != nil {
		t.Error("expected Wrap(nil, ...) to return nil")
	}
	if Wrapf(nil, KindIO, "ignored %d", 1) != nil {
		t.Error("expected Wrapf(nil, ...) to return nil")
	}
}

func TestKindString(t *testing.T) {
	if KindCaptureOpen.String() != "capture_open" {
		t.Errorf("expected 'capture_open', got %q", KindCaptureOpen.String())
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("expected 'unknown' for out-of-range Kind, got %q", Kind(99).String())
	}
}

func TestFatal(t *testing.T) {
	if !Fatal(KindConfig) || !Fatal(KindCaptureOpen) {
		t.Error("config and capture-open errors must be fatal")
	}
	if Fatal(KindParse) || Fatal(KindIO) || Fatal(KindProtocol) {
		t.Error("parse/io/protocol errors must not be fatal")
	}
}
