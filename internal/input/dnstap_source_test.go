// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package input

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers mirror internal/dnstap's private constants; duplicated
// here since tests build raw frames from outside that package.
const (
	testFieldDnstapType    = 15
	testFieldDnstapMessage = 14
	testDnstapTypeMessage  = 1

	testFieldMsgSocketProtocol = 3
	testFieldMsgQueryAddress   = 4
	testFieldMsgQueryPort      = 6
	testFieldMsgQueryTimeSec   = 8
	testFieldMsgQueryMessage   = 10
	testSocketProtoUDP         = 1
)

func buildDnstapMessageFrame(queryPayload []byte) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, testFieldMsgSocketProtocol, protowire.VarintType)
	msg = protowire.AppendVarint(msg, testSocketProtoUDP)
	msg = protowire.AppendTag(msg, testFieldMsgQueryAddress, protowire.BytesType)
	msg = protowire.AppendBytes(msg, []byte{10, 0, 0, 1})
	msg = protowire.AppendTag(msg, testFieldMsgQueryPort, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 5353)
	msg = protowire.AppendTag(msg, testFieldMsgQueryTimeSec, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 1700000000)
	msg = protowire.AppendTag(msg, testFieldMsgQueryMessage, protowire.BytesType)
	msg = protowire.AppendBytes(msg, queryPayload)

	var buf []byte
	buf = protowire.AppendTag(buf, testFieldDnstapType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, testDnstapTypeMessage)
	buf = protowire.AppendTag(buf, testFieldDnstapMessage, protowire.BytesType)
	buf = protowire.AppendBytes(buf, msg)
	return buf
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// writeStartHandshakeAndFrames writes a bare START control frame (no
// preceding READY, matching DnstapFile's unidirectional framing) and
// then one data frame per entry in frames.
func writeStartHandshakeAndFrames(t *testing.T, w io.Writer, frames [][]byte) {
	t.Helper()
	require.NoError(t, writeUint32(w, 0))
	body := append([]byte{0, 0, 0, 2}, []byte{0, 0, 0, 1}...)
	body = append(body, []byte{0, 0, 0, byte(len(dnstapContentType))}...)
	body = append(body, dnstapContentType...)
	require.NoError(t, writeUint32(w, uint32(len(body))))
	_, err := w.Write(body)
	require.NoError(t, err)

	for _, fr := range frames {
		require.NoError(t, writeUint32(w, uint32(len(fr))))
		_, err := w.Write(fr)
		require.NoError(t, err)
	}
}

func TestDnstapFileEmitsDecodedSignals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.fstrm")

	f, err := os.Create(path)
	require.NoError(t, err)
	writeStartHandshakeAndFrames(t, f, [][]byte{buildDnstapMessageFrame([]byte("wire-payload"))})
	require.NoError(t, f.Close())

	src := &DnstapFile{Path: path}
	var got []DnstapSignal
	src.OnDnstap(func(s DnstapSignal) { got = append(got, s) })

	require.NoError(t, src.Start())
	require.Len(t, got, 1)
	require.Equal(t, []byte("wire-payload"), got[0].Decoded.Payload)
	require.True(t, got[0].Decoded.IsQuery)
}

func TestDnstapSocketAcceptsAndDecodes(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "dnstap.sock")
	srv := &DnstapSocket{SocketPath: sockPath}

	received := make(chan DnstapSignal, 1)
	srv.OnDnstap(func(s DnstapSignal) { received <- s })

	require.NoError(t, srv.Start())
	defer srv.Stop()

	var conn net.Conn
	var dialErr error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, dialErr = net.Dial("unix", sockPath)
		if dialErr == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, dialErr)
	defer conn.Close()

	writeStartHandshakeAndFrames(t, conn, [][]byte{buildDnstapMessageFrame([]byte("socket-payload"))})

	select {
	case sig := <-received:
		require.Equal(t, []byte("socket-payload"), sig.Decoded.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded dnstap signal")
	}
}

func TestDnstapSocketStopRemovesSocketFile(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "dnstap.sock")
	srv := &DnstapSocket{SocketPath: sockPath}

	require.NoError(t, srv.Start())
	_, err := os.Stat(sockPath)
	require.NoError(t, err)

	require.NoError(t, srv.Stop())
	_, err = os.Stat(sockPath)
	require.True(t, os.IsNotExist(err))
}
