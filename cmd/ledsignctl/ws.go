package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coreman2200/funtimes-ledsign"
	"github.com/coreman2200/funtimes-ledsign/internal/imageload"
	"github.com/coreman2200/funtimes-ledsign/internal/link"
)

// wsLink talks to a running ledsign daemon. Sockets are dialed on first use.
type wsLink struct {
	base    string
	timeout time.Duration
	conns   map[string]*websocket.Conn
}

func openWS(base string) *wsLink {
	return &wsLink{
		base:    strings.TrimSuffix(base, "/"),
		timeout: 5 * time.Second,
		conns:   map[string]*websocket.Conn{},
	}
}

func (l *wsLink) conn(path string) (*websocket.Conn, error) {
	if c, ok := l.conns[path]; ok {
		return c, nil
	}
	c, _, err := websocket.DefaultDialer.Dial(l.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", path, err)
	}
	l.conns[path] = c
	return c, nil
}

func (l *wsLink) Request(req ledsign.Request, value uint16) error {
	c, err := l.conn("/control")
	if err != nil {
		return err
	}
	r := int(req)
	if err := c.WriteJSON(link.ControlMsg{Request: &r, Value: value}); err != nil {
		return fmt.Errorf("ws: %s: %w", req, err)
	}
	_ = c.SetReadDeadline(time.Now().Add(l.timeout))
	var reply link.ControlReply
	if err := c.ReadJSON(&reply); err != nil {
		return fmt.Errorf("ws: %s reply: %w", req, err)
	}
	if !reply.OK {
		return fmt.Errorf("ws: %s: %s", req, reply.Error)
	}
	return nil
}

// Reset rewinds the write cursor on the data socket itself, so it is ordered
// with the writes that follow.
func (l *wsLink) Reset() error {
	c, err := l.conn("/data")
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, []byte("reset"))
}

func (l *wsLink) Write(p []byte) error {
	c, err := l.conn("/data")
	if err != nil {
		return err
	}
	for _, chunk := range imageload.Chunks(p, ledsign.PacketSize) {
		if err := c.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return fmt.Errorf("ws: data: %w", err)
		}
	}
	return nil
}

func (l *wsLink) TTY(s string) (string, error) {
	c, err := l.conn("/tty")
	if err != nil {
		return "", err
	}
	if err := c.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		return "", err
	}
	if !strings.ContainsAny(s, "rc+-") {
		return "", nil
	}
	_ = c.SetReadDeadline(time.Now().Add(l.timeout))
	_, msg, err := c.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("ws: tty reply: %w", err)
	}
	return string(msg), nil
}

// Close closes every socket with a normal closure so pending writes land.
func (l *wsLink) Close() error {
	var errs []error
	for path, c := range l.conns {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ws: close %s: %w", path, err))
		}
		delete(l.conns, path)
	}
	return errors.Join(errs...)
}
