// Package rendezvous implements the core of the signaling/rendezvous broker:
// the address allocator, the session registry, and the operation
// dispatcher/handlers that translate opcode-tagged messages into mutations
// of the two and fan-out to other clients. It has no knowledge of how bytes
// reach it (see internal/transport) or how the process is bootstrapped (see
// internal/rendezvousd).
package rendezvous

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/pg9182/rendezvous/internal/metrics"
)

// Server is the single value that owns all rendezvous state for one
// deployment. Zero value is not usable; construct with NewServer.
type Server struct {
	Logger zerolog.Logger

	// Metrics is optional; if nil, no metrics are recorded.
	Metrics *metrics.Metrics

	alloc *Allocator // has its own internal mutex

	// mu serializes all mutation of the registry's client table and alias
	// table across dispatcher handlers.
	mu       sync.Mutex
	registry *Registry
}

// NewServer returns an empty Server.
func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		Logger:   logger,
		alloc:    NewAllocator(),
		registry: NewRegistry(),
	}
}

// Conn is a per-connection handle returned by Open. The caller (the
// transport layer) feeds it inbound frames via Dispatch and calls Close when
// the underlying transport closes.
type Conn struct {
	transport Transport

	// id is set exactly once, by handleKnock, and is thereafter read-only.
	// Since one transport's inbound frames are processed in arrival order to
	// completion before the next is started, no further synchronization is
	// needed for this field.
	id ID
}

// Open begins tracking a new connection without registering a client: the
// connection has no id until KNOCK succeeds.
func (s *Server) Open(t Transport) *Conn {
	return &Conn{transport: t}
}

// Dispatch decodes raw and routes it to the handler for its opcode. An
// unknown opcode is fatal for the connection: the caller must close it after
// Dispatch returns ErrUnimplementedOperation.
func (s *Server) Dispatch(c *Conn, raw []byte) error {
	m, err := Decode(raw)
	if err != nil {
		return err
	}

	log := s.Logger
	if c.id != "" {
		log = log.With().Str("id", string(c.id)).Logger()
	}

	switch v := m.(type) {
	case Knock:
		s.handleKnock(c, v, log)
	case Offer:
		s.handleOffer(c, v, log)
	case Answer:
		s.handleAnswer(c, v, log)
	case Candidate:
		s.handleCandidate(c, v, log)
	case Bind:
		s.handleBind(c, v, log)
	case Accepting:
		s.handleAccepting(c, v, log)
	case Shutdown:
		s.handleShutdown(c, v, log)
	case Connect:
		s.handleConnect(c, v, log)
	default:
		return ErrUnimplementedOperation
	}
	return nil
}

// Close runs the goodbye procedure for c if it completed KNOCK. A
// connection that never completed KNOCK has no presence and triggers no
// messages.
func (s *Server) Close(c *Conn) {
	if c.id == "" {
		return
	}
	s.goodbye(c.id, s.Logger.With().Str("id", string(c.id)).Logger())
}

// broadcast sends msg to every registered client except those in except. A
// send failing for one peer never aborts the broadcast.
func (s *Server) broadcast(msg Message, except map[ID]bool, log zerolog.Logger) {
	for id, t := range s.registry.Clients() {
		if except[id] {
			continue
		}
		if err := t.Send(msg); err != nil {
			log.Warn().Err(err).Str("to", string(id)).Str("op", msg.Opcode().String()).Msg("broadcast send failed")
		}
	}
}

// sendTo sends msg to the single client id, if registered. A missing target
// is not an error; the message is dropped silently.
func (s *Server) sendTo(id ID, msg Message, log zerolog.Logger) {
	t := s.registry.GetClient(id)
	if t == nil {
		return
	}
	if err := t.Send(msg); err != nil {
		log.Warn().Err(err).Str("to", string(id)).Str("op", msg.Opcode().String()).Msg("send failed")
	}
}

// Registry exposes the server's registry. The registry has no locking of its
// own, and this accessor does not take the mutex the handlers use to
// serialize access to it.
func (s *Server) Registry() *Registry { return s.registry }
