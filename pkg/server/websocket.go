package server

import (
	"io"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The protocol carries no cookies or ambient credentials, so
	// cross-origin browser clients are allowed to connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWebSocket bridges a WebSocket client into the same line/binary
// protocol the TCP listener speaks. Each binary WebSocket message carries
// a chunk of the byte stream; framing is otherwise identical to TCP, so
// the connection handler is shared unchanged.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	s.handleConn(newWSConn(ws))
}

// wsConn adapts a websocket.Conn to the handler's conn interface: reads
// drain successive messages as one continuous stream, writes emit one
// binary message per call.
type wsConn struct {
	ws  *websocket.Conn
	cur io.Reader // partially consumed incoming message, nil between messages
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.cur != nil {
			n, err := c.cur.Read(p)
			if err == io.EOF {
				c.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		msgType, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		c.cur = r
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}
