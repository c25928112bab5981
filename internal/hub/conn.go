package hub

import "time"

// Conn is one live subscriber connection. The daemon's stream server adapts
// net.Conn to this; tests substitute in-memory fakes.
type Conn interface {
	// Send writes one framed message to the client.
	Send(data []byte) error
	// SetWriteDeadline bounds the next Send so a stalled client cannot block
	// a broadcast.
	SetWriteDeadline(t time.Time) error
	// Close tears the connection down.
	Close() error
	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}
