package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	lerrors "github.com/devrev/voicelink/internal/errors"
)

// Transport is one established control channel to a node. ReadFrame and the
// write methods may be called concurrently with each other, but each from a
// single goroutine.
type Transport interface {
	ReadFrame(timeout time.Duration) ([]byte, error)
	WriteFrame(data []byte, timeout time.Duration) error
	Ping(timeout time.Duration) error
	Close() error
}

// Dialer opens transports. The returned header is the handshake response
// header.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Transport, http.Header, error)
}

// WebSocketDialer dials nodes with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial performs the WebSocket handshake. A 401 response is reported as
// ErrUnauthorized so the caller can stop retrying.
func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Transport, http.Header, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, nil, lerrors.Unauthorized(url)
		}
		return nil, nil, lerrors.HandshakeFailed(url, err)
	}

	t := &wsTransport{conn: conn}
	return t, resp.Header, nil
}

type wsTransport struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (t *wsTransport) ReadFrame(timeout time.Duration) ([]byte, error) {
	if t.readTimeout != timeout {
		t.readTimeout = timeout
		t.conn.SetPongHandler(func(string) error {
			return t.conn.SetReadDeadline(time.Now().Add(timeout))
		})
	}

	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, lerrors.UnexpectedClose(err)
		}
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, classifyReadError(err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteFrame(data []byte, timeout time.Duration) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return lerrors.WriteFailed(err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return lerrors.WriteFailed(err)
	}
	return nil
}

func (t *wsTransport) Ping(timeout time.Duration) error {
	if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
		return lerrors.WriteFailed(err)
	}
	return nil
}

// Close sends a normal closure frame and closes the socket.
func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

func classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return lerrors.ReadTimeout(err)
	}
	return lerrors.UnexpectedClose(err)
}
