// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnstap decodes the dnstap protobuf schema's MESSAGE frames
// into the fields netvisor needs (the wire-format DNS payload, its
// socket 5-tuple, and timestamps), using protowire directly rather than
// a generated .pb.go — the pack ships no dnstap.proto to compile, and
// the schema is small and stable enough that hand-decoding the handful
// of fields netvisor cares about is the pragmatic choice.
package dnstap

import (
	"net"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"grimm.is/netvisor/internal/netevent"
	"grimm.is/netvisor/internal/nverrors"
)

// Dnstap.Type enum: MESSAGE is the only value the spec processes.
const dnstapTypeMessage = 1

// Field numbers from the dnstap.proto schema (Dnstap and Message
// messages), per https://dnstap.info/.
const (
	fieldDnstapType    = 15
	fieldDnstapMessage = 14

	fieldMsgSocketFamily     = 2
	fieldMsgSocketProtocol   = 3
	fieldMsgQueryAddress     = 4
	fieldMsgResponseAddress  = 5
	fieldMsgQueryPort        = 6
	fieldMsgResponsePort     = 7
	fieldMsgQueryTimeSec     = 8
	fieldMsgQueryTimeNsec    = 9
	fieldMsgQueryMessage     = 10
	fieldMsgResponseTimeSec  = 12
	fieldMsgResponseTimeNsec = 13
	fieldMsgResponseMessage  = 14
)

const (
	socketProtoUDP = 1
	socketProtoTCP = 2
)

// Decoded is the subset of a dnstap Message this package extracts:
// whichever of query/response wire payload is present, its endpoint
// 5-tuple, and its timestamp.
type Decoded struct {
	Payload   []byte
	IsQuery   bool
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	L4        netevent.L4Proto
	Timestamp time.Time
}

// Decode parses one dnstap frame, returning nverrors KindParse on any
// malformed protobuf, and (nil, nil) when the frame's outer type isn't
// MESSAGE or it carries neither a query nor response payload (per spec
// §4.4, such frames are simply not processed — not an error).
func Decode(frame []byte) (*Decoded, error) {
	var msgField []byte
	var sawMessageType bool

	buf := frame
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed tag")
		}
		buf = buf[n:]

		switch num {
		case fieldDnstapType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed type field")
			}
			buf = buf[n:]
			sawMessageType = v == dnstapTypeMessage
		case fieldDnstapMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed message field")
			}
			buf = buf[n:]
			msgField = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed field")
			}
			buf = buf[n:]
		}
	}

	if !sawMessageType || msgField == nil {
		return nil, nil
	}
	return decodeMessage(msgField)
}

func decodeMessage(buf []byte) (*Decoded, error) {
	d := &Decoded{}
	var querySec, respSec uint64
	var queryNsec, respNsec uint32
	var haveQuery, haveResponse bool

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed message tag")
		}
		buf = buf[n:]

		switch num {
		case fieldMsgSocketProtocol:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed socket_protocol")
			}
			buf = buf[n:]
			if v == socketProtoTCP {
				d.L4 = netevent.L4TCP
			} else if v == socketProtoUDP {
				d.L4 = netevent.L4UDP
			}
		case fieldMsgQueryAddress:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed query_address")
			}
			buf = buf[n:]
			d.SrcIP = net.IP(v)
		case fieldMsgResponseAddress:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed response_address")
			}
			buf = buf[n:]
			d.DstIP = net.IP(v)
		case fieldMsgQueryPort:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed query_port")
			}
			buf = buf[n:]
			d.SrcPort = uint16(v)
		case fieldMsgResponsePort:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed response_port")
			}
			buf = buf[n:]
			d.DstPort = uint16(v)
		case fieldMsgQueryTimeSec:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed query_time_sec")
			}
			buf = buf[n:]
			querySec = v
		case fieldMsgQueryTimeNsec:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed query_time_nsec")
			}
			buf = buf[n:]
			queryNsec = uint32(v)
		case fieldMsgResponseTimeSec:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed response_time_sec")
			}
			buf = buf[n:]
			respSec = v
		case fieldMsgResponseTimeNsec:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed response_time_nsec")
			}
			buf = buf[n:]
			respNsec = uint32(v)
		case fieldMsgQueryMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed query_message")
			}
			buf = buf[n:]
			d.Payload = v
			haveQuery = true
		case fieldMsgResponseMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed response_message")
			}
			buf = buf[n:]
			// A response overrides a query if both are somehow present;
			// dnstap frames carry exactly one in practice.
			d.Payload = v
			haveResponse = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, nverrors.New(nverrors.KindParse, "dnstap: malformed message field")
			}
			buf = buf[n:]
		}
	}

	if !haveQuery && !haveResponse {
		return nil, nil
	}

	if haveResponse {
		d.IsQuery = false
		d.Timestamp = time.Unix(int64(respSec), int64(respNsec))
		// dnstap source/dest addressing is query-perspective: the
		// responder's reply still carries query_address as the client.
		d.DstIP, d.SrcIP = d.SrcIP, d.DstIP
		d.DstPort, d.SrcPort = d.SrcPort, d.DstPort
	} else {
		d.IsQuery = true
		d.Timestamp = time.Unix(int64(querySec), int64(queryNsec))
	}

	return d, nil
}
