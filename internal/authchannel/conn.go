package authchannel

import "context"

// Conn is the minimal transport the server-side state machine needs: read
// one message, write one message, close. Keeping it this small lets the
// handshake run identically over a real WebSocket or an in-memory pipe in
// tests, and keeps internal/authchannel free of any dependency on
// nhooyr.io/websocket itself (that lives only in wsconn.go).
type Conn interface {
	ReadMessage(ctx context.Context) (Message, error)
	WriteMessage(ctx context.Context, m Message) error
	Close() error
}
