// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
	"github.com/Thermoquad/kegelbridge/pkg/wsbridge"
)

// Connection provides a common interface for reading/writing bytes from serial, TCP or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenTCPConnection connects to the gateway socket server
func OpenTCPConnection(addr string) (Connection, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("socket connection failed: %w", err)
	}
	return conn, nil
}

// OpenWebSocketConnection connects to the gateway WebSocket stream (ws_addr)
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	conn, err := wsbridge.Dial(ctx, wsURL, wsbridge.DialOptions{
		Username:           username,
		Password:           password,
		InsecureSkipVerify: skipSSLVerify,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// passwordEnv holds the WebSocket password for both the client and the
// gateway's WebSocket server
const passwordEnv = "KEGELBRIDGE_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens a socket, WebSocket or serial connection based on flags
func OpenConnection() (Connection, string, error) {
	if tcpAddr != "" {
		conn, err := OpenTCPConnection(tcpAddr)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Socket: %s", tcpAddr), nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", errors.New("one of --addr, --url or --port must be specified")
}

// frameScanner collects bytes until they form complete frames
type frameScanner struct {
	buf []byte
}

// Feed appends data and returns every frame completed by it
func (s *frameScanner) Feed(data []byte) [][]byte {
	s.buf = append(s.buf, data...)
	complete, rest := ninepin.CutComplete(s.buf)
	if len(complete) == 0 {
		return nil
	}
	frames := ninepin.SplitFrames(complete)
	s.buf = append([]byte(nil), rest...)
	return frames
}

// Pending returns the bytes of an unfinished frame
func (s *frameScanner) Pending() []byte {
	return s.buf
}

// readFrames reads conn until it fails and sends every complete frame to
// frames. The read error is returned; io.EOF means the peer went away.
func readFrames(conn Connection, frames chan<- []byte) error {
	var scanner frameScanner
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, frame := range scanner.Feed(buf[:n]) {
				frames <- frame
			}
		}
		if err != nil {
			return err
		}
	}
}

// isClosed reports whether err means the connection ended normally
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
