package stt

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

// Conn is one live recognizer connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, binary bool, p []byte) error
	Close() error
}

// Dialer opens recognizer connections. Tests swap in scripted dialers.
type Dialer interface {
	Dial(ctx context.Context, url string, hdr http.Header) (Conn, error)
}

type DialFunc func(ctx context.Context, url string, hdr http.Header) (Conn, error)

func (f DialFunc) Dial(ctx context.Context, url string, hdr http.Header) (Conn, error) {
	return f(ctx, url, hdr)
}

// WebsocketDialer dials the provider over a real websocket.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, url string, hdr http.Header) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(1 << 20)
	return &wsConn{c: c}, nil
}

type wsConn struct{ c *websocket.Conn }

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, binary bool, p []byte) error {
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}
	return w.c.Write(ctx, typ, p)
}

func (w *wsConn) Close() error { return w.c.Close(websocket.StatusNormalClosure, "bye") }
