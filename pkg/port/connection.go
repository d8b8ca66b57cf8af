// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package port

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Connection is the byte-oriented duplex stream the engine drives.
// Configuration (baud rate, parity, TLS) lives entirely behind the
// constructors.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
	IsOpen() bool
}

// SerialConnection wraps a local serial port, typically a PLM on a USB
// adapter.
type SerialConnection struct {
	port   serial.Port
	closed atomic.Bool
}

// OpenSerial opens a serial connection to a modem. Insteon PLMs speak
// 19200 8N1; pass baud 0 for that default.
func OpenSerial(device string, baud int) (*SerialConnection, error) {
	if baud == 0 {
		baud = 19200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return &SerialConnection{port: p}, nil
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	s.closed.Store(true)
	return s.port.Close()
}

// IsOpen reports whether Close has not yet been called.
func (s *SerialConnection) IsOpen() bool {
	return !s.closed.Load()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket
// connection.
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection wraps a WebSocket for byte-level reading, for
// modems reached through a network hub instead of a local serial port.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int

	// closed is read by the reader goroutine while Close runs on
	// another; it must stay atomic.
	closed atomic.Bool
}

// OpenWebSocket opens a WebSocket connection with optional HTTP Basic
// auth.
func OpenWebSocket(wsURL, username, password string, skipTLSVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipTLSVerify}
	}

	headers := http.Header{}
	if username != "" {
		headers.Set("Authorization", "Basic "+basicAuth(username, password))
	}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return &WebSocketConnection{conn: conn}, nil
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrConnectionClosed
	}

	// Drain any buffered message first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed.Store(true)
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	w.closed.Store(true)
	return w.conn.Close()
}

// IsOpen reports whether the connection is still usable.
func (w *WebSocketConnection) IsOpen() bool {
	return !w.closed.Load()
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
