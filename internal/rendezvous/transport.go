package rendezvous

// Transport is the abstraction the core consumes for the underlying
// bidirectional framed channel. The core never constructs one; it is handed
// a Transport per connection by the caller (see internal/transport for the
// concrete websocket implementation).
type Transport interface {
	// Send writes m to the peer. Implementations must preserve per-peer FIFO
	// order across calls.
	Send(m Message) error

	// Close terminates the connection. It must be safe to call more than
	// once.
	Close() error

	// Ping sends a transport-level liveness probe.
	Ping() error

	// RemoteAddr identifies the peer, for logging.
	RemoteAddr() string

	// Alive reports the liveness flag set since the previous tick. It is
	// touched only by the liveness keeper and this transport's own pong
	// handler.
	Alive() bool

	// SetAlive sets the liveness flag. Implementations set it true from
	// their pong handler and the liveness keeper sets it false at the start
	// of each tick.
	SetAlive(bool)
}
