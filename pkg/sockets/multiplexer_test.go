// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sockets

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newListening(t *testing.T) (*Multiplexer, *logsink.Recorder) {
	t.Helper()
	rec := logsink.NewRecorder(500)
	m := New(WithLogger(rec.Sink()))
	require.NoError(t, m.Listen("127.0.0.1", 0))
	t.Cleanup(func() { _ = m.Close() })
	return m, rec
}

func dial(t *testing.T, m *Multiplexer) net.Conn {
	t.Helper()
	before := m.Clients()
	conn, err := net.Dial("tcp", m.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		m.Exchange()
		return m.Clients() == before+1
	}, waitFor, tick)
	return conn
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestBacklogReplayedToFirstClient(t *testing.T) {
	m, rec := newListening(t)

	require.NoError(t, m.Broadcast([]byte("A\r")))
	require.NoError(t, m.Broadcast([]byte("BC\r")))
	assert.Equal(t, int64(2), rec.Count("SKT_ATQE"))

	info := m.Info()
	require.Len(t, info, 1)
	assert.Equal(t, BacklogName, info[0].Name)
	assert.Equal(t, uint64(2), info[0].Frames)
	assert.Equal(t, uint64(5), info[0].Bytes)

	conn := dial(t, m)
	m.Exchange()
	assert.Equal(t, []byte("A\rBC\r"), readN(t, conn, 5))

	info = m.Info()
	require.Len(t, info, 2)
	assert.Equal(t, uint64(0), info[1].Bytes, "backlog handed over")

	// the second client only gets new frames
	second := dial(t, m)
	require.NoError(t, m.Broadcast([]byte("D\r")))
	assert.Equal(t, int64(2), rec.Count("SKT_ATSD"))
	m.Exchange()
	assert.Equal(t, []byte("D\r"), readN(t, conn, 2))
	assert.Equal(t, []byte("D\r"), readN(t, second, 2))
}

func TestExchange_FramesClientInput(t *testing.T) {
	m, rec := newListening(t)
	conn := dial(t, m)

	_, err := conn.Write([]byte("Hej\rpa"))
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		got = append(got, m.Exchange()...)
		return len(got) > 0
	}, waitFor, tick)
	assert.Equal(t, []byte("Hej\r"), got)

	_, err = conn.Write([]byte("rt\r"))
	require.NoError(t, err)
	got = nil
	require.Eventually(t, func() bool {
		got = append(got, m.Exchange()...)
		return len(got) > 0
	}, waitFor, tick)
	assert.Equal(t, []byte("part\r"), got)

	info := m.Info()
	assert.Equal(t, uint64(2), info[0].Frames)
	assert.Equal(t, uint64(9), info[0].Bytes)
	assert.Equal(t, int64(2), rec.Count("SKT_RECV"))
}

func TestExchange_Ping(t *testing.T) {
	m, rec := newListening(t)
	conn := dial(t, m)

	_, err := conn.Write([]byte("\r"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		assert.Empty(t, m.Exchange())
		return rec.Count("SKT_RCVP") == 1
	}, waitFor, tick)
	assert.Equal(t, uint64(0), m.Info()[0].Frames)
}

// inputBuffered returns the bytes of an unfinished frame held for the
// first client
func inputBuffered(m *Multiplexer) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) == 0 {
		return 0
	}
	return len(m.clients[0].recvBuf)
}

func TestExchange_TerminatorInOwnSegment(t *testing.T) {
	m, rec := newListening(t)
	conn := dial(t, m)

	_, err := conn.Write([]byte("3811i0"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		assert.Empty(t, m.Exchange())
		return inputBuffered(m) == 6
	}, waitFor, tick)

	_, err = conn.Write([]byte("\r"))
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		got = append(got, m.Exchange()...)
		return len(got) > 0
	}, waitFor, tick)
	assert.Equal(t, []byte("3811i0\r"), got)
	assert.Zero(t, rec.Count("SKT_RCVP"))
}

func TestExchange_ClientDisconnect(t *testing.T) {
	m, rec := newListening(t)
	conn := dial(t, m)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		m.Exchange()
		return m.Clients() == 0
	}, waitFor, tick)
	assert.Equal(t, int64(1), rec.Count("SKT_CLSC"))
	assert.Equal(t, int64(1), rec.Count("SKT_RECV_CLOSE")+rec.Count("SKT_RECV_ERROR"))

	require.NoError(t, m.Broadcast([]byte("A\r")))
	assert.Equal(t, uint64(1), m.Info()[0].Frames, "frames go to the backlog again")
}

func TestBroadcast_Invalid(t *testing.T) {
	rec := logsink.NewRecorder(10)
	m := New(WithLogger(rec.Sink()))

	assert.ErrorIs(t, m.Broadcast(nil), ErrInvalidPayload)
	assert.Equal(t, int64(1), rec.Count("SKT_ATSL_ERROR"))

	assert.ErrorIs(t, m.Broadcast([]byte("abc")), ErrInvalidPayload)
	assert.Equal(t, int64(1), rec.Count("SKT_ATSE_ERROR"))

	assert.Equal(t, uint64(0), m.Info()[0].Bytes)
}

func TestMultiplexer_WithoutListener(t *testing.T) {
	m := New()
	assert.False(t, m.Listening())
	assert.Nil(t, m.Addr())

	require.NoError(t, m.Broadcast([]byte("A\r")))
	assert.Empty(t, m.Exchange())
	assert.ErrorIs(t, m.Close(), ErrAlreadyClosed)
	assert.Equal(t, 2, m.ClearBacklog())
}

func TestListen_Errors(t *testing.T) {
	m, _ := newListening(t)
	assert.ErrorIs(t, m.Listen("127.0.0.1", 0), ErrAlreadyListening)

	rec := logsink.NewRecorder(50)
	other := New(WithLogger(rec.Sink()))
	assert.ErrorIs(t, other.Listen("127.0.0.1", 70000), ErrBind)
	assert.ErrorIs(t, other.Listen("127.0.0.1", -1), ErrBind)
	assert.Equal(t, int64(2), rec.Count("SKT_CREA_ERROR"))

	_, port, err := net.SplitHostPort(m.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Listen("127.0.0.1", p), ErrBind, "port in use")
	assert.Equal(t, int64(3), rec.Count("SKT_CREA_ERROR"))
	assert.False(t, other.Listening())

	entries := rec.Recent(10, 10)
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[len(entries)-1].Detail, "cannot bind")
}

func TestClose_AndRelisten(t *testing.T) {
	rec := logsink.NewRecorder(50)
	m := New(WithLogger(rec.Sink()))
	require.NoError(t, m.Listen("127.0.0.1", 0))
	conn := dial(t, m)

	require.NoError(t, m.Broadcast([]byte("unsent\r")))
	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Clients())
	assert.Equal(t, int64(1), rec.Count("SKT_CLSS"))
	assert.Equal(t, uint64(7), m.Info()[0].Bytes, "last client's queue returns to the backlog")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := conn.Read(make([]byte, 16))
	assert.Error(t, err)

	assert.ErrorIs(t, m.Close(), ErrAlreadyClosed)
	assert.Equal(t, int64(1), rec.Count("SKT_CCSS_ERROR"))

	require.NoError(t, m.Listen("127.0.0.1", 0))
	require.NoError(t, m.Close())
}

func TestClearBacklog(t *testing.T) {
	rec := logsink.NewRecorder(10)
	m := New(WithLogger(rec.Sink()))

	assert.Equal(t, 0, m.ClearBacklog())
	assert.Equal(t, int64(1), rec.Count("SKT_EQUE"))

	require.NoError(t, m.Broadcast([]byte("A\rB\r")))
	assert.Equal(t, 4, m.ClearBacklog())
	assert.Equal(t, int64(1), rec.Count("SKT_CQUE"))
	assert.Equal(t, uint64(0), m.Info()[0].Frames)
}

func TestLocalAddresses(t *testing.T) {
	addrs, err := LocalAddresses()
	require.NoError(t, err)
	for _, a := range addrs {
		ip := net.ParseIP(a)
		require.NotNil(t, ip, a)
		assert.NotNil(t, ip.To4())
	}
}

func TestExchange_LargeBacklog(t *testing.T) {
	m, _ := newListening(t)

	frame := []byte("3138T2489\r")
	for i := 0; i < 500; i++ {
		require.NoError(t, m.Broadcast(frame))
	}
	conn := dial(t, m)

	want := bytes.Repeat(frame, 500)
	go func() {
		for m.Info()[0].Pending > 0 {
			m.Exchange()
			time.Sleep(time.Millisecond)
		}
	}()
	assert.Equal(t, want, readN(t, conn, len(want)))
}
