// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package framestream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"grimm.is/netvisor/internal/nverrors"
)

func controlFrame(ctrlType uint32, contentTypes ...string) []byte {
	var body []byte
	body = binary.BigEndian.AppendUint32(body, ctrlType)
	for _, ct := range contentTypes {
		body = binary.BigEndian.AppendUint32(body, fieldContentType)
		body = binary.BigEndian.AppendUint32(body, uint32(len(ct)))
		body = append(body, ct...)
	}
	var frame []byte
	frame = binary.BigEndian.AppendUint32(frame, 0)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	return append(frame, body...)
}

func dataFrame(payload []byte) []byte {
	var frame []byte
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	return append(frame, payload...)
}

func TestUnidirectionalStartThenData(t *testing.T) {
	var in bytes.Buffer
	in.Write(controlFrame(controlStart, "protobuf:dnstap.Dnstap"))
	in.Write(dataFrame([]byte("hello")))
	in.Write(controlFrame(controlStop))

	c := New(&in, nil, []string{"protobuf:dnstap.Dnstap"}, 0)
	payload, err := c.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("expected hello, got %q", payload)
	}
	if c.State() != StateRunning {
		t.Fatalf("expected Running, got %v", c.State())
	}

	_, err = c.Next()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after STOP, got %v", err)
	}
}

func TestBidirectionalHandshakeSendsAcceptAndFinish(t *testing.T) {
	var in, out bytes.Buffer
	in.Write(controlFrame(controlReady, "protobuf:dnstap.Dnstap"))
	in.Write(controlFrame(controlStart))
	in.Write(dataFrame([]byte("payload")))
	in.Write(controlFrame(controlStop))

	c := New(&in, &out, []string{"protobuf:dnstap.Dnstap"}, 0)
	payload, err := c.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != "payload" {
		t.Fatalf("expected payload, got %q", payload)
	}

	if _, err := c.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}

	if out.Len() == 0 {
		t.Fatal("expected ACCEPT/FINISH control replies to be written")
	}
}

func TestDataBeforeStartIsProtocolError(t *testing.T) {
	var in bytes.Buffer
	in.Write(dataFrame([]byte("too early")))

	c := New(&in, nil, nil, 0)
	_, err := c.Next()
	if err == nil || nverrors.GetKind(err) != nverrors.KindProtocol {
		t.Fatalf("expected KindProtocol error, got %v", err)
	}
}

func TestStartWhileRunningIsError(t *testing.T) {
	var in bytes.Buffer
	in.Write(controlFrame(controlStart, "x"))
	in.Write(controlFrame(controlStart))

	c := New(&in, nil, nil, 0)
	// Next keeps reading control frames until a data frame or an error,
	// so the second START surfaces from this first call.
	_, err := c.Next()
	if err == nil || nverrors.GetKind(err) != nverrors.KindProtocol {
		t.Fatalf("expected KindProtocol error for START while Running, got %v", err)
	}
}

func TestOversizedFrameIsProtocolError(t *testing.T) {
	var in bytes.Buffer
	in.Write(controlFrame(controlStart))
	var frame []byte
	frame = binary.BigEndian.AppendUint32(frame, 1024)
	in.Write(frame)

	c := New(&in, nil, nil, 16)
	_, err := c.Next()
	if err == nil || nverrors.GetKind(err) != nverrors.KindProtocol {
		t.Fatalf("expected KindProtocol oversized-frame error, got %v", err)
	}
}

func TestRejectsUnacceptedContentType(t *testing.T) {
	var in bytes.Buffer
	in.Write(controlFrame(controlReady, "text/unknown"))

	c := New(&in, new(bytes.Buffer), []string{"protobuf:dnstap.Dnstap"}, 0)
	_, err := c.Next()
	if err == nil || nverrors.GetKind(err) != nverrors.KindProtocol {
		t.Fatalf("expected KindProtocol content-type rejection, got %v", err)
	}
}
