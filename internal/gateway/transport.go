package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one live transport connection.
type Conn interface {
	// ReadFrame blocks until the next inbound frame or a transport error.
	ReadFrame() (*Frame, error)
	// WriteFrame sends a frame. Safe for concurrent use.
	WriteFrame(*Frame) error
	Close() error
}

// Transport dials connections to the messaging backend.
type Transport interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// WebsocketTransport connects to the backend over a websocket, sending the
// credential as a bearer token during the handshake.
type WebsocketTransport struct {
	URL string
}

// NewWebsocketTransport creates a transport for the given ws:// or wss:// URL.
func NewWebsocketTransport(url string) *WebsocketTransport {
	return &WebsocketTransport{URL: url}
}

// Dial opens the websocket connection.
func (t *WebsocketTransport) Dial(ctx context.Context, credential string) (Conn, error) {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, t.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn wraps a gorilla websocket connection. Gorilla allows one
// concurrent writer, so writes are serialized with a mutex.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() (*Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *wsConn) WriteFrame(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
