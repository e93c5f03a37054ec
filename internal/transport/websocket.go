// Package transport implements rendezvous.Transport over a websocket
// connection: the concrete bidirectional framed channel the core is handed
// per connection.
package transport

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pg9182/rendezvous/internal/rendezvous"
)

// Upgrader configures the websocket handshake. The core performs no
// authentication of its own; by default all origins are accepted.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WriteTimeout bounds a single frame write so a stalled peer can't wedge the
// broadcast loop forever: a failed send must not abort a broadcast, which
// requires sends to fail rather than hang.
const WriteTimeout = 10 * time.Second

// Conn adapts a *websocket.Conn to rendezvous.Transport. Writes are
// serialized with a mutex because gorilla/websocket forbids concurrent
// writers on the same connection, and the dispatcher's broadcast helper may
// call Send from whichever goroutine is processing another connection's
// message.
type Conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu sync.Mutex
	alive   atomic.Bool

	closeOnce sync.Once
	onClose   func()
}

var _ rendezvous.Transport = (*Conn)(nil)

// NewConn wraps ws. onClose is invoked exactly once, the first time the
// connection's read loop exits or Close is called explicitly; it should run
// the server's goodbye procedure for this connection.
func NewConn(ws *websocket.Conn, log zerolog.Logger, onClose func()) *Conn {
	c := &Conn{ws: ws, log: log, onClose: onClose}
	c.alive.Store(true)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

// Send implements rendezvous.Transport.
func (c *Conn) Send(m rendezvous.Message) error {
	raw, err := rendezvous.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// Ping implements rendezvous.Transport.
func (c *Conn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// Close implements rendezvous.Transport. Safe to call more than once.
func (c *Conn) Close() error {
	err := c.ws.Close()
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

// RemoteAddr implements rendezvous.Transport.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Alive implements rendezvous.Transport.
func (c *Conn) Alive() bool { return c.alive.Load() }

// SetAlive implements rendezvous.Transport.
func (c *Conn) SetAlive(v bool) { c.alive.Store(v) }

// ReadLoop reads frames from the connection until it closes or a read
// errors out, handing each to dispatch. It always runs onClose exactly once
// before returning, whether it exits because of a read error or because
// dispatch reported a fatal protocol violation.
func (c *Conn) ReadLoop(dispatch func(raw []byte) error) {
	defer c.Close()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if err := dispatch(raw); err != nil {
			c.log.Warn().Err(err).Msg("closing connection after protocol violation")
			return
		}
	}
}
