package authchannel

import (
	"context"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsConn adapts a nhooyr.io/websocket connection to Conn, grounded on the
// accept/read/write shape the teacher's WebSocket transport used for its
// peer stream.
type wsConn struct {
	c *websocket.Conn
}

// NewWSConn wraps an already-accepted WebSocket connection as a Conn.
func NewWSConn(c *websocket.Conn) Conn {
	return &wsConn{c: c}
}

func (w *wsConn) ReadMessage(ctx context.Context) (Message, error) {
	var m Message
	if err := wsjson.Read(ctx, w.c, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (w *wsConn) WriteMessage(ctx context.Context, m Message) error {
	return wsjson.Write(ctx, w.c, m)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
