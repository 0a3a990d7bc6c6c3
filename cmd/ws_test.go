// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/kegelbridge/pkg/comport"
	"github.com/Thermoquad/kegelbridge/pkg/comport/comporttest"
	"github.com/Thermoquad/kegelbridge/pkg/gateway"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
	"github.com/Thermoquad/kegelbridge/pkg/sockets"
	"github.com/Thermoquad/kegelbridge/pkg/wsbridge"
)

func TestWebSocketTapThroughGateway(t *testing.T) {
	xDev, lane := comporttest.Pipe()
	yDev, _ := comporttest.Pipe()
	g, err := gateway.New(gateway.Config{
		Lanes:      4,
		Interval:   time.Millisecond,
		MaxWait:    2 * time.Second,
		Critical:   time.Second,
		Warning:    500 * time.Millisecond,
		RetryLimit: 1,
	}, comport.New(xDev, "/dev/x", "COM_X"), comport.New(yDev, "/dev/y", "COM_Y"), sockets.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	srv := httptest.NewServer(wsbridge.NewHandler(g))
	t.Cleanup(srv.Close)

	conn, err := OpenWebSocketConnection("ws"+strings.TrimPrefix(srv.URL, "http"), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	// serial ports, the WebSocket client and the backlog
	require.Eventually(t, func() bool {
		return g.Tick() == nil && len(g.ConnectionInfo()) == 4
	}, 2*time.Second, 5*time.Millisecond)

	frames := make(chan []byte, 4)
	go func() { _ = readFrames(conn, frames) }()

	_, err = lane.Write([]byte("3811i0\r"))
	require.NoError(t, err)
	var got []byte
	require.Eventually(t, func() bool {
		if g.Tick() != nil {
			return false
		}
		select {
		case got = <-frames:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("3811i0\r"), got)

	request := ninepin.LaneCommand(2, ninepin.CmdEnter)
	_, err = conn.Write(request)
	require.NoError(t, err)

	var sent []byte
	require.Eventually(t, func() bool {
		if g.Tick() != nil {
			return false
		}
		sent = append(sent, lane.Drain()...)
		return bytes.Contains(sent, request)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "AwaitingWarn", g.Status().Mode)
	assert.Equal(t, 2, g.Status().Lane)
}

func TestOpenWebSocketConnection_BadScheme(t *testing.T) {
	conn, err := OpenWebSocketConnection("http://localhost/lanes", "", "", false)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}
