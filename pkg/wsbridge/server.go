// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wsbridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
)

// Attacher takes ownership of an accepted stream
type Attacher interface {
	AttachClient(conn net.Conn) error
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithBasicAuth requires HTTP Basic credentials on the upgrade request
func WithBasicAuth(username, password string) HandlerOption {
	return func(h *Handler) {
		h.username = username
		h.password = password
	}
}

// WithLogger sets the log sink
func WithLogger(sink logsink.Sink) HandlerOption {
	return func(h *Handler) {
		if sink != nil {
			h.log = sink
		}
	}
}

// Handler upgrades requests to WebSocket and hands each connection to the
// target as a byte stream.
type Handler struct {
	target   Attacher
	upgrader websocket.Upgrader
	username string
	password string
	log      logsink.Sink
}

// NewHandler returns a Handler attaching clients to target
func NewHandler(target Attacher, opts ...HandlerOption) *Handler {
	h := &Handler{target: target, log: logsink.Discard}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1
	return userOK && passOK
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.log(7, "WS_AUTH_ERROR", r.RemoteAddr, "Rejected WebSocket client")
		w.Header().Set("WWW-Authenticate", `Basic realm="kegelbridge"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.log(8, "WS_UPGRADE_ERROR", r.RemoteAddr, err)
		return
	}
	conn := NewConn(ws)
	if err := h.target.AttachClient(conn); err != nil {
		h.log(10, "WS_ATTACH_ERROR", r.RemoteAddr, err)
		_ = conn.Close()
	}
}

// Serve runs an HTTP server with h at path until ctx is done
func Serve(ctx context.Context, addr, path string, h *Handler, log logsink.Sink) error {
	if log == nil {
		log = logsink.Discard
	}

	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log(2, "WS_SERVE", addr, fmt.Sprintf("WebSocket server listening on %s", path))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log(10, "WS_SERVE_ERROR", addr, err)
		return fmt.Errorf("websocket server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("websocket shutdown: %w", err)
		}
		return nil
	}
}
