// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sockets fans the lane frame stream out to TCP clients.
//
// A Multiplexer accepts any number of clients. Frames passed to Broadcast
// are queued for every connected client, or kept in a backlog while nobody
// is connected; the first client to arrive receives the backlog. Frames the
// clients send are returned by Exchange.
//
// Network I/O happens on helper goroutines that feed channels. All buffers
// are touched only from Exchange and the other methods, under one mutex, so
// the gateway loop sees a single-threaded view.
package sockets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

var (
	// ErrBind is returned when the server socket cannot be created
	ErrBind = errors.New("cannot bind socket server")
	// ErrAlreadyListening is returned by Listen while a server is open
	ErrAlreadyListening = errors.New("socket server already listening")
	// ErrInvalidPayload is returned by Broadcast for empty or unterminated data
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrAlreadyClosed is returned by Close when no server is open
	ErrAlreadyClosed = errors.New("socket server already closed")
)

// BacklogName labels the backlog row returned by Info
const BacklogName = "backlog"

const (
	defaultWriteTimeout = 10 * time.Millisecond
	readChunk           = 1024
	eventBuffer         = 64
	maxAcceptDelay      = time.Second
)

// EndpointInfo is one row of Info
type EndpointInfo struct {
	Name   string
	Frames uint64
	Bytes  uint64
	// Pending is the number of bytes waiting to be written
	Pending int
}

// Option configures a Multiplexer
type Option func(*Multiplexer)

// WithLogger sets the log sink
func WithLogger(sink logsink.Sink) Option {
	return func(m *Multiplexer) {
		if sink != nil {
			m.log = sink
		}
	}
}

// WithWriteTimeout bounds each client write
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Multiplexer) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

type readEvent struct {
	data []byte
	err  error
}

type client struct {
	conn   net.Conn
	addr   string
	events chan readEvent
	done   chan struct{}

	sendBuf        []byte
	recvBuf        []byte
	bytesReceived  uint64
	framesReceived uint64
}

type server struct {
	listener net.Listener
	accepts  chan net.Conn
	errs     chan error
	done     chan struct{}
	wg       sync.WaitGroup
}

// Multiplexer is the TCP fan-out
type Multiplexer struct {
	log          logsink.Sink
	writeTimeout time.Duration

	mu      sync.Mutex
	server  *server
	clients []*client
	backlog []byte
}

// New returns a Multiplexer without a listener. Until Listen succeeds
// every broadcast frame goes to the backlog.
func New(opts ...Option) *Multiplexer {
	m := &Multiplexer{
		log:          logsink.Discard,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Listen opens the server socket on host:port
func (m *Multiplexer) Listen(host string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyListening, m.server.listener.Addr())
	}
	if port < 0 || port > 65535 {
		err := fmt.Errorf("%w: port number %d out of range 0-65535", ErrBind, port)
		m.log(10, "SKT_CREA_ERROR", "", err)
		return err
	}

	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrBind, err)
		m.log(10, "SKT_CREA_ERROR", "", err)
		return err
	}

	s := &server{
		listener: l,
		accepts:  make(chan net.Conn, eventBuffer),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	m.server = s

	m.log(2, "SKT_SRCD", "", fmt.Sprintf("Socket server: %s", l.Addr()))
	return nil
}

func (s *server) acceptLoop() {
	defer s.wg.Done()

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			select {
			case s.errs <- err:
			default:
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			select {
			case <-time.After(delay):
			case <-s.done:
				return
			}
			continue
		}
		delay = 0

		select {
		case s.accepts <- conn:
		case <-s.done:
			conn.Close()
			return
		}
	}
}

// Addr returns the listening address, or nil
func (m *Multiplexer) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return nil
	}
	return m.server.listener.Addr()
}

// Listening reports whether a server socket is open
func (m *Multiplexer) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server != nil
}

// Clients returns the number of connected clients
func (m *Multiplexer) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Broadcast queues payload for every client, or the backlog when there
// are none. payload must end with a terminator.
func (m *Multiplexer) Broadcast(payload []byte) error {
	if len(payload) == 0 {
		m.log(10, "SKT_ATSL_ERROR", "", "Wrong length of data to send, must send minimum one byte")
		return fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if !ninepin.HasTerminator(payload) {
		m.log(10, "SKT_ATSE_ERROR", "",
			fmt.Sprintf("Wrong last sign of data to send, last sign must be '\\r': %q", payload))
		return fmt.Errorf("%w: %q has no terminator", ErrInvalidPayload, payload)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clients) == 0 {
		m.backlog = append(m.backlog, payload...)
		m.log(1, "SKT_ATQE", "", payload)
		return nil
	}
	for _, c := range m.clients {
		c.sendBuf = append(c.sendBuf, payload...)
		m.log(1, "SKT_ATSD", c.addr, payload)
	}
	return nil
}

// Exchange accepts waiting connections, collects client input and writes
// queued output. It returns every complete frame received this pass.
func (m *Multiplexer) Exchange() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acceptPending()

	var received []byte
	for _, c := range append([]*client(nil), m.clients...) {
		received = append(received, m.receive(c)...)
	}
	for _, c := range append([]*client(nil), m.clients...) {
		m.send(c)
	}
	return received
}

func (m *Multiplexer) acceptPending() {
	if m.server == nil {
		return
	}
	for {
		select {
		case conn := <-m.server.accepts:
			m.addClient(conn)
		case err := <-m.server.errs:
			m.log(10, "SKT_ACPT_ERROR", "", fmt.Sprintf("An error occurred while connecting the new client | %v", err))
		default:
			return
		}
	}
}

// Attach adds a connection accepted elsewhere, such as a WebSocket, as a
// client. It works with or without a listening server.
func (m *Multiplexer) Attach(conn net.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addClient(conn)
}

func (m *Multiplexer) addClient(conn net.Conn) {
	c := &client{
		conn:    conn,
		addr:    conn.RemoteAddr().String(),
		events:  make(chan readEvent, eventBuffer),
		done:    make(chan struct{}),
		sendBuf: m.backlog,
	}
	m.backlog = nil
	m.clients = append(m.clients, c)
	go c.readLoop()
	m.log(6, "SKT_ACPT", c.addr, "New socket client")
}

func (c *client) readLoop() {
	for {
		buf := make([]byte, readChunk)
		n, err := c.conn.Read(buf)
		if n > 0 {
			select {
			case c.events <- readEvent{data: buf[:n]}:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case c.events <- readEvent{err: err}:
			case <-c.done:
			}
			return
		}
	}
}

func (m *Multiplexer) receive(c *client) []byte {
	var received []byte
	for {
		var ev readEvent
		select {
		case ev = <-c.events:
		default:
			return received
		}

		if ev.err != nil {
			if errors.Is(ev.err, io.EOF) {
				m.log(7, "SKT_RECV_CLOSE", c.addr, "The socket connection was closed")
			} else {
				m.log(10, "SKT_RECV_ERROR", c.addr, fmt.Sprintf("An error occurred while recv data | %v", ev.err))
			}
			m.drop(c)
			return received
		}

		if len(ev.data) == 1 && ev.data[0] == ninepin.Terminator && len(c.recvBuf) == 0 {
			m.log(1, "SKT_RCVP", c.addr, "Receive ping message")
			continue
		}

		c.recvBuf = append(c.recvBuf, ev.data...)
		complete, rest := ninepin.CutComplete(c.recvBuf)
		if len(complete) == 0 {
			continue
		}
		frames := append([]byte(nil), complete...)
		c.recvBuf = append(c.recvBuf[:0], rest...)
		c.bytesReceived += uint64(len(frames))
		c.framesReceived += uint64(ninepin.CountFrames(frames))
		m.log(5, "SKT_RECV", c.addr, frames)
		received = append(received, frames...)
	}
}

func (m *Multiplexer) send(c *client) {
	idx := bytes.LastIndexByte(c.sendBuf, ninepin.Terminator)
	if idx < 0 {
		return
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout)); err != nil {
		m.log(10, "SKT_SEND_ERROR", c.addr, fmt.Sprintf("An error occurred while send data | %v", err))
		m.drop(c)
		return
	}
	n, err := c.conn.Write(c.sendBuf[:idx+1])
	if n > 0 {
		sent := append([]byte(nil), c.sendBuf[:n]...)
		c.sendBuf = append(c.sendBuf[:0], c.sendBuf[n:]...)
		m.log(3, "SKT_SEND", c.addr, sent)
	}
	if err == nil {
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// slow reader, remaining bytes go out next pass
		return
	}
	m.log(10, "SKT_SEND_ERROR", c.addr, fmt.Sprintf("An error occurred while send data | %v", err))
	m.drop(c)
}

// drop closes a client. The last client's unsent bytes return to the
// backlog.
func (m *Multiplexer) drop(c *client) {
	idx := -1
	for i, other := range m.clients {
		if other == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	m.clients = append(m.clients[:idx], m.clients[idx+1:]...)
	if len(m.clients) == 0 {
		m.backlog = append(m.backlog, c.sendBuf...)
	}
	close(c.done)

	if err := c.conn.Close(); err != nil {
		m.log(10, "SKT_CLSC_ERROR", c.addr, fmt.Sprintf("Error occurred while trying close socket | %v", err))
		return
	}
	m.log(6, "SKT_CLSC", c.addr, "Socket has been closed")
}

// Info lists every client followed by the backlog row
func (m *Multiplexer) Info() []EndpointInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]EndpointInfo, 0, len(m.clients)+1)
	for _, c := range m.clients {
		rows = append(rows, EndpointInfo{
			Name:    c.addr,
			Frames:  c.framesReceived,
			Bytes:   c.bytesReceived,
			Pending: len(c.sendBuf),
		})
	}
	rows = append(rows, EndpointInfo{
		Name:    BacklogName,
		Frames:  uint64(ninepin.CountFrames(m.backlog)),
		Bytes:   uint64(len(m.backlog)),
		Pending: len(m.backlog),
	})
	return rows
}

// ClearBacklog discards the unsent backlog and returns its size in bytes
func (m *Multiplexer) ClearBacklog() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.backlog)
	if n == 0 {
		m.log(8, "SKT_EQUE", "", "Queue with unsent data was empty")
		return 0
	}
	m.backlog = nil
	m.log(8, "SKT_CQUE", "", "Queue with unsent data has been cleared")
	return n
}

// Close disconnects every client and closes the server socket. A later
// Listen may open a new one.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.clients) > 0 {
		m.drop(m.clients[0])
	}

	s := m.server
	if s == nil {
		m.log(10, "SKT_CCSS_ERROR", "", "Error occurred while trying close closed server socket")
		return ErrAlreadyClosed
	}
	m.server = nil

	close(s.done)
	err := s.listener.Close()
	s.wg.Wait()
drain:
	for {
		select {
		case conn := <-s.accepts:
			conn.Close()
		default:
			break drain
		}
	}

	if err != nil {
		m.log(10, "SKT_CLSS_ERROR", "", fmt.Sprintf("Error occurred while trying close socket server | %v", err))
		return fmt.Errorf("close socket server: %w", err)
	}
	m.log(6, "SKT_CLSS", "", "Socket server has been closed")
	return nil
}

// LocalAddresses lists the IPv4 addresses of the host interfaces, for
// choosing where to listen.
func LocalAddresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}
	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			out = append(out, ip4.String())
		}
	}
	return out, nil
}
