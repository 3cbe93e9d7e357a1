// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nverrors carries the pipeline's error-kind taxonomy (spec
// §7): every error raised anywhere in netvisor's ingest-to-metrics path
// is kinded so a caller can branch on category — fatal at Start() vs.
// counted-and-dropped — without matching on message text.
package nverrors

import (
	"errors"
	"fmt"
)

// Kind categorizes an error by the pipeline's error-handling policy.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig: bad/missing option, unknown pcap_source. Fatal at Start().
	KindConfig
	// KindCaptureOpen: capture device not found, BPF invalid. Fatal at Start().
	KindCaptureOpen
	// KindProtocol: malformed frame-stream framing, oversized frame.
	// Closes the offending session, never the whole source.
	KindProtocol
	// KindParse: malformed DNS or dnstap payload. Counted and dropped,
	// never fatal.
	KindParse
	// KindIO: transport failure during live capture. Logged and
	// retried; a terminal one stops the source.
	KindIO
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindConfig:      "config",
	KindCaptureOpen: "capture_open",
	KindProtocol:    "protocol",
	KindParse:       "parse",
	KindIO:          "io",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Fatal reports whether an error of this kind aborts Start() for the
// owning input source, per spec §7's error-handling table.
func (k Kind) Fatal() bool {
	return k == KindConfig || k == KindCaptureOpen
}

// Fatal is the function form of Kind.Fatal; callers holding an error
// pass GetKind(err).
func Fatal(kind Kind) bool {
	return kind.Fatal()
}

// kinded attaches a Kind to an error by embedding it, so Error() comes
// for free and errors.Is/errors.As/errors.Unwrap see straight through to
// whatever the embedded error itself wraps.
type kinded struct {
	kind Kind
	error
}

func (k *kinded) Unwrap() error { return errors.Unwrap(k.error) }

// New reports a new error of kind carrying msg.
func New(kind Kind, msg string) error {
	return &kinded{kind: kind, error: errors.New(msg)}
}

// Errorf reports a new error of kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &kinded{kind: kind, error: fmt.Errorf(format, args...)}
}

// Wrap attaches kind and a leading message to cause, reporting nil when
// cause is nil so a call site can wrap a fallible call's result
// unconditionally.
func Wrap(cause error, kind Kind, msg string) error {
	if cause == nil {
		return nil
	}
	return &kinded{kind: kind, error: fmt.Errorf("%s: %w", msg, cause)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &kinded{kind: kind, error: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), cause)}
}

// GetKind walks err's chain for the first kinded error and returns its
// Kind, or KindUnknown if the chain carries none.
func GetKind(err error) Kind {
	var k *kinded
	if errors.As(err, &k) {
		return k.kind
	}
	return KindUnknown
}
