// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package framestream implements the bidirectional frame-stream wire
// format used to carry dnstap payloads over a unix socket or file: each
// frame is a big-endian uint32 length followed by that many bytes, with
// a zero length escaping into a control frame.
//
// This is a from-scratch protocol with no library in the example pack,
// so it is hand-rolled on encoding/binary rather than imported.
package framestream

import (
	"bufio"
	"encoding/binary"
	"io"

	"grimm.is/netvisor/internal/nverrors"
)

// State is a connection's position in the frame-stream handshake.
type State int

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateFinished:
		return "Finished"
	default:
		return "New"
	}
}

// Control frame types, per the frame-stream specification.
const (
	controlAccept uint32 = 1
	controlStart  uint32 = 2
	controlStop   uint32 = 3
	controlReady  uint32 = 4
	controlFinish uint32 = 5
)

// fieldContentType is the only field type the wire format defines today.
const fieldContentType uint32 = 1

// DefaultMaxFrameSize matches the upstream frame-stream library's default.
const DefaultMaxFrameSize = 1 << 20 // 1 MiB

// Codec decodes one connection's frame-stream traffic. It is not safe for
// concurrent use; each connection owns its own Codec and receive buffer.
type Codec struct {
	r             *bufio.Reader
	w             io.Writer // nil for unidirectional (file) input; no handshake replies are sent
	state         State
	acceptedTypes []string
	maxFrameSize  uint32
	bidirectional bool
}

// New returns a Codec reading from r. If w is non-nil the codec operates
// bidirectionally and writes READY/ACCEPT/FINISH control replies to w.
// acceptedTypes lists the CONTENT_TYPE values this decoder will accept
// (e.g. "protobuf:dnstap.Dnstap"); all others are rejected.
func New(r io.Reader, w io.Writer, acceptedTypes []string, maxFrameSize uint32) *Codec {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{
		r:             bufio.NewReader(r),
		w:             w,
		acceptedTypes: acceptedTypes,
		maxFrameSize:  maxFrameSize,
	}
}

// State returns the codec's current handshake state.
func (c *Codec) State() State { return c.state }

// Next reads and returns the next data frame payload, transparently
// handling any control frames (READY/START/STOP/FINISH) encountered
// along the way. It returns io.EOF when the peer closes the stream
// cleanly, or a nverrors KindProtocol error on a malformed frame.
func (c *Codec) Next() ([]byte, error) {
	for {
		length, err := c.readUint32()
		if err != nil {
			return nil, err
		}

		if length == 0 {
			if err := c.handleControlFrame(); err != nil {
				return nil, err
			}
			if c.state == StateFinished {
				return nil, io.EOF
			}
			continue
		}

		if length > c.maxFrameSize {
			return nil, nverrors.Errorf(nverrors.KindProtocol, "frame-stream: frame size %d exceeds max %d", length, c.maxFrameSize)
		}
		if c.state != StateRunning {
			return nil, nverrors.New(nverrors.KindProtocol, "frame-stream: data before START")
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func (c *Codec) handleControlFrame() error {
	ctrlLen, err := c.readUint32()
	if err != nil {
		return err
	}
	buf := make([]byte, ctrlLen)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return err
	}
	if len(buf) < 4 {
		return nverrors.New(nverrors.KindProtocol, "frame-stream: truncated control frame")
	}
	ctrlType := binary.BigEndian.Uint32(buf[:4])
	contentTypes, err := parseFields(buf[4:])
	if err != nil {
		return err
	}

	// A proper selection statement per control type and state: each case
	// handles exactly one transition and returns without falling into the
	// next, resolving the upstream defect where START's handling used to
	// fall through into READY's side effects.
	switch ctrlType {
	case controlReady:
		if c.state != StateNew {
			return nverrors.Errorf(nverrors.KindProtocol, "frame-stream: READY received in state %s", c.state)
		}
		if err := c.negotiateContentType(contentTypes); err != nil {
			return err
		}
		c.bidirectional = true
		c.state = StateReady
		return c.sendControl(controlAccept, c.acceptedTypes)

	case controlStart:
		if c.state == StateRunning {
			return nverrors.New(nverrors.KindProtocol, "frame-stream: START received while already Running")
		}
		if c.state == StateNew {
			// Unidirectional: START arrives with no preceding READY.
			if err := c.negotiateContentType(contentTypes); err != nil {
				return err
			}
		}
		c.state = StateRunning
		return nil

	case controlStop:
		c.state = StateFinished
		if c.bidirectional {
			return c.sendControl(controlFinish, nil)
		}
		return nil

	case controlFinish:
		if c.state != StateReady && c.state != StateRunning {
			return nverrors.Errorf(nverrors.KindProtocol, "frame-stream: FINISH received in state %s", c.state)
		}
		c.state = StateFinished
		return nil

	case controlAccept:
		// Only meaningful on the initiating side of a bidirectional
		// handshake; a receive-only decoder simply ignores it.
		return nil

	default:
		return nverrors.Errorf(nverrors.KindProtocol, "frame-stream: unknown control type %d", ctrlType)
	}
}

func (c *Codec) negotiateContentType(offered []string) error {
	if len(c.acceptedTypes) == 0 {
		return nil
	}
	for _, want := range c.acceptedTypes {
		for _, got := range offered {
			if want == got {
				return nil
			}
		}
	}
	return nverrors.Errorf(nverrors.KindProtocol, "frame-stream: no acceptable content type in %v", offered)
}

func (c *Codec) sendControl(ctrlType uint32, contentTypes []string) error {
	if c.w == nil {
		return nil
	}
	var body []byte
	body = binary.BigEndian.AppendUint32(body, ctrlType)
	for _, ct := range contentTypes {
		body = binary.BigEndian.AppendUint32(body, fieldContentType)
		body = binary.BigEndian.AppendUint32(body, uint32(len(ct)))
		body = append(body, ct...)
	}

	var frame []byte
	frame = binary.BigEndian.AppendUint32(frame, 0) // escape
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	frame = append(frame, body...)
	_, err := c.w.Write(frame)
	return err
}

func (c *Codec) readUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func parseFields(buf []byte) ([]string, error) {
	var types []string
	for len(buf) > 0 {
		if len(buf) < 8 {
			return nil, nverrors.New(nverrors.KindProtocol, "frame-stream: truncated control field")
		}
		fieldType := binary.BigEndian.Uint32(buf[:4])
		fieldLen := binary.BigEndian.Uint32(buf[4:8])
		buf = buf[8:]
		if uint32(len(buf)) < fieldLen {
			return nil, nverrors.New(nverrors.KindProtocol, "frame-stream: truncated control field value")
		}
		if fieldType == fieldContentType {
			types = append(types, string(buf[:fieldLen]))
		}
		buf = buf[fieldLen:]
	}
	return types, nil
}
