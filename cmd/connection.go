// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/paclink/pkg/config"
)

// Byte streams to the indoor unit. The CN-CNT connector is wired either
// straight to a local UART or through a WebSocket serial bridge (ESP
// firmware forwarding the UART), and both look the same to the link.

const wsDialTimeout = 15 * time.Second

// Connection is a raw byte stream to the unit
type Connection interface {
	io.ReadWriteCloser
}

// ErrConnectionClosed is returned by reads after the bridge hung up
var ErrConnectionClosed = errors.New("websocket connection closed")

// SerialConnection is a local UART
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		// No read timeout is set, so an empty read means the port went away
		return 0, io.EOF
	}
	return n, err
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// WebSocketConnection is a serial bridge speaking binary WebSocket
// messages. Message boundaries carry no meaning; the framer finds packets.
type WebSocketConnection struct {
	conn    *websocket.Conn
	pending bytes.Reader
	err     error
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	for w.pending.Len() == 0 {
		if w.err != nil {
			return 0, w.err
		}
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = ErrConnectionClosed
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			return 0, w.err
		}
		// Text messages are bridge chatter
		if kind == websocket.BinaryMessage {
			w.pending.Reset(data)
		}
	}
	return w.pending.Read(p)
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close tells the bridge we are leaving before dropping the socket
func (w *WebSocketConnection) Close() error {
	bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	w.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(time.Second))
	return w.conn.Close()
}

// OpenSerialConnection opens a UART at 8E1, the only framing the unit
// accepts
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection dials a serial bridge. Credentials travel as
// URL userinfo, which the dialer turns into Basic auth.
func OpenWebSocketConnection(rawURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bridge URL must be ws:// or wss://, got %q", u.Scheme)
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	if skipSSLVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial bridge %s: HTTP %d: %w", u.Redacted(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial bridge %s: %w", u.Redacted(), err)
	}
	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword returns PACLINK_PASSWORD, or asks for the bridge password on
// stderr. Piped input is read as a single line.
func GetPassword() (string, error) {
	if pw := os.Getenv("PACLINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, "Bridge password: ")
	defer fmt.Fprintln(os.Stderr)

	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the bridge when a URL is configured, otherwise the
// serial port. The returned string describes the link for banners.
func OpenConnection(dev config.Device) (Connection, string, error) {
	switch {
	case dev.URL != "":
		var password string
		if dev.Username != "" {
			pw, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			password = pw
		}
		conn, err := OpenWebSocketConnection(dev.URL, dev.Username, password, dev.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, "WebSocket bridge " + dev.URL, nil

	case dev.Port != "":
		conn, err := OpenSerialConnection(dev.Port, dev.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial %s @ %d baud 8E1", dev.Port, dev.Baud), nil
	}
	return nil, "", errors.New("no device: set --port or --url")
}
