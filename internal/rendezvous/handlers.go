package rendezvous

import (
	"time"

	"github.com/rs/zerolog"
)

// observeAlloc records how long an allocator call took since start,
// including any wait for the allocator's mutex, if metrics are enabled.
func (s *Server) observeAlloc(start time.Time) {
	if s.Metrics != nil {
		s.Metrics.AllocDuration.UpdateDuration(start)
	}
}

// handleKnock allocates an id for a newly connected client, acknowledges it,
// greets the new client to every existing peer, and only then registers it.
//
// The acknowledgement precedes every greeting; greetings are sent to
// existing peers before the new client is inserted into the client table
// (so it receives none of them).
func (s *Server) handleKnock(c *Conn, m Knock, log zerolog.Logger) {
	allocStart := time.Now()
	id, err := s.alloc.CreateIP(m.Subnet)
	s.observeAlloc(allocStart)
	if err != nil {
		c.transport.Send(Acknowledgement{ID: "-1", Rejected: true})
		opErr := &OpError{Kind: kindFor(err), Op: OpKnock, Err: err}
		log.Warn().Str("subnet", m.Subnet).Err(opErr).Msg("knock rejected")
		if s.Metrics != nil {
			if err == ErrInvalidSubnet {
				s.Metrics.KnocksTotal.reject_invalid.Inc()
			} else {
				s.Metrics.KnocksTotal.overflow.Inc()
			}
		}
		return
	}

	c.transport.Send(Acknowledgement{ID: string(id), Rejected: false})

	s.mu.Lock()
	existing := s.registry.Clients()
	for existingID, t := range existing {
		t.Send(Greeting{OffererID: string(existingID), AnswererID: string(id)})
	}
	s.registry.AddClient(id, c.transport)
	s.mu.Unlock()

	c.id = id
	if s.Metrics != nil {
		s.Metrics.KnocksTotal.success.Inc()
		s.Metrics.ClientsCurrent.Inc()
	}
	log.Info().Str("subnet", m.Subnet).Msg("client joined")
}

// handleOffer, handleAnswer, and handleCandidate are pure relays: each
// forwards its message to the named peer, dropped silently if absent.
func (s *Server) handleOffer(c *Conn, m Offer, log zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendTo(ID(m.AnswererID), m, log)
}

func (s *Server) handleAnswer(c *Conn, m Answer, log zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendTo(ID(m.OffererID), m, log)
}

func (s *Server) handleCandidate(c *Conn, m Candidate, log zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendTo(ID(m.AnswererID), m, log)
}

// handleBind claims an alias for a client and announces it to every peer,
// rejecting duplicate aliases and already-allocated ports.
func (s *Server) handleBind(c *Conn, m Bind, log zerolog.Logger) {
	alias := Alias(m.Alias)
	id := ID(m.ID)

	if !alias.Valid() {
		s.mu.Lock()
		s.sendTo(id, AliasMsg{ID: m.ID, Alias: m.Alias, Set: false}, log)
		s.mu.Unlock()
		opErr := &OpError{Kind: KindInvalidAddress, Client: id, Op: OpBind, Err: ErrInvalidAlias}
		log.Warn().Str("alias", m.Alias).Err(opErr).Msg("bind rejected")
		if s.Metrics != nil {
			s.Metrics.BindsTotal.reject_invalid.Inc()
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.registry.LookupAlias(alias); exists {
		s.sendTo(id, AliasMsg{ID: m.ID, Alias: m.Alias, Set: false}, log)
		if s.Metrics != nil {
			s.Metrics.BindsTotal.reject_duplicate.Inc()
		}
		return
	}

	allocStart := time.Now()
	err := s.alloc.ClaimPort(alias)
	s.observeAlloc(allocStart)
	if err != nil {
		s.sendTo(id, AliasMsg{ID: m.ID, Alias: m.Alias, Set: false}, log)
		opErr := &OpError{Kind: kindFor(err), Client: id, Op: OpBind, Err: err}
		log.Warn().Str("alias", m.Alias).Err(opErr).Msg("bind rejected: port already allocated")
		if s.Metrics != nil {
			s.Metrics.BindsTotal.reject_port_taken.Inc()
		}
		return
	}

	s.registry.BindAlias(alias, id)
	s.broadcast(AliasMsg{ID: m.ID, Alias: m.Alias, Set: true}, nil, log)
	if s.Metrics != nil {
		s.Metrics.BindsTotal.success.Inc()
		s.Metrics.AliasesCurrent.Inc()
	}
}

// handleAccepting flags an alias as willing to receive CONNECTs. It is
// silent on both success and rejection: the caller gets no confirmation
// either way.
func (s *Server) handleAccepting(c *Conn, m Accepting, log zerolog.Logger) {
	alias := Alias(m.Alias)
	id := ID(m.ID)

	if !alias.Valid() || !id.Valid() {
		opErr := &OpError{Kind: KindInvalidAddress, Client: id, Op: OpAccepting, Err: ErrInvalidAlias}
		log.Warn().Str("alias", m.Alias).Str("id", m.ID).Err(opErr).Msg("accepting rejected")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.SetAccepting(alias, id) {
		opErr := &OpError{Kind: KindClientDoesNotExist, Client: id, Op: OpAccepting}
		log.Warn().Str("alias", m.Alias).Str("id", m.ID).Err(opErr).Msg("accepting rejected: alias absent or not owned")
	}
}

// handleShutdown tears down a single bound alias owned by the requester,
// releasing its port and announcing the removal to every peer.
func (s *Server) handleShutdown(c *Conn, m Shutdown, log zerolog.Logger) {
	alias := Alias(m.Alias)
	id := ID(m.ID)

	if !alias.Valid() || !id.Valid() {
		opErr := &OpError{Kind: KindInvalidAddress, Client: id, Op: OpShutdown, Err: ErrInvalidAlias}
		log.Warn().Str("alias", m.Alias).Str("id", m.ID).Err(opErr).Msg("shutdown rejected")
		s.mu.Lock()
		s.sendTo(id, AliasMsg{ID: m.ID, Alias: m.Alias, Set: true}, log)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.UnbindAlias(alias, id) {
		s.sendTo(id, AliasMsg{ID: m.ID, Alias: m.Alias, Set: true}, log)
		return
	}

	s.alloc.ReleasePort(alias)
	s.alloc.ReleaseIP(alias.ID())
	s.broadcast(AliasMsg{ID: m.ID, Alias: m.Alias, Set: false}, nil, log)
	if s.Metrics != nil {
		s.Metrics.AliasesCurrent.Dec()
	}
}

// handleConnect allocates a fresh connection alias for the initiator and, if
// the requested remote alias is registered and accepting, wires the two
// sides together. The four sends in the success path must occur in exactly
// the order below; the pair (b)+(e) together tell the initiator "here is
// your local endpoint, and here is the remote endpoint for this
// clientConnectionId".
func (s *Server) handleConnect(c *Conn, m Connect, log zerolog.Logger) {
	id := ID(m.ID)
	remoteAlias := Alias(m.RemoteAlias)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !remoteAlias.Valid() {
		opErr := &OpError{Kind: KindInvalidAddress, Client: id, Op: OpConnect, Err: ErrInvalidAlias}
		log.Warn().Str("remote_alias", m.RemoteAlias).Err(opErr).Msg("connect rejected")
		s.sendTo(id, AliasMsg{
			ID:                 m.ID,
			Set:                false,
			ClientConnectionID: m.ClientConnectionID,
		}, log)
		if s.Metrics != nil {
			s.Metrics.ConnectsTotal.reject_invalid.Inc()
		}
		return
	}

	allocStart := time.Now()
	clientAlias, err := s.alloc.CreatePort(id)
	s.observeAlloc(allocStart)
	if err != nil {
		opErr := &OpError{Kind: kindFor(err), Client: id, Op: OpConnect, Err: err}
		log.Warn().Str("id", m.ID).Err(opErr).Msg("connect failed: could not allocate connection alias")
		return
	}

	remote, ok := s.registry.LookupAlias(remoteAlias)
	if !ok || !remote.Accepting {
		s.alloc.ReleasePort(clientAlias)
		s.sendTo(id, AliasMsg{
			ID:                 m.ID,
			Alias:              string(clientAlias),
			Set:                false,
			ClientConnectionID: m.ClientConnectionID,
		}, log)
		if s.Metrics != nil {
			s.Metrics.ConnectsTotal.reject_offline.Inc()
		}
		return
	}

	s.registry.ConnectionAlias(clientAlias, id)
	if s.Metrics != nil {
		s.Metrics.ConnectsTotal.success.Inc()
		s.Metrics.AliasesCurrent.Inc()
	}

	// (b)
	s.sendTo(id, AliasMsg{
		ID:                 m.ID,
		Alias:              string(clientAlias),
		Set:                true,
		ClientConnectionID: m.ClientConnectionID,
		IsConnectionAlias:  true,
	}, log)
	// (c)
	s.sendTo(remote.OwnerID, AliasMsg{ID: m.ID, Alias: string(clientAlias), Set: true}, log)
	// (d)
	s.sendTo(remote.OwnerID, Accept{BoundAlias: m.RemoteAlias, ClientAlias: string(clientAlias)}, log)
	// (e)
	s.sendTo(id, AliasMsg{
		ID:                 string(remote.OwnerID),
		Alias:              m.RemoteAlias,
		Set:                true,
		ClientConnectionID: m.ClientConnectionID,
	}, log)
}

// goodbye runs when a registered client's transport closes: it frees the
// client's id, tears down every alias it owned (announcing each removal),
// and finally announces the client's departure. The per-alias broadcasts
// precede the final departure broadcast.
func (s *Server) goodbye(id ID, log zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.RemoveClient(id)
	s.alloc.ReleaseIP(id)
	if s.Metrics != nil {
		s.Metrics.ClientsCurrent.Dec()
	}

	for _, alias := range s.registry.AliasesFor(id) {
		s.registry.RemoveAlias(alias)
		s.alloc.ReleaseIP(alias.ID())
		s.alloc.ReleasePort(alias)
		s.broadcast(AliasMsg{ID: string(id), Alias: string(alias), Set: false}, nil, log)
		if s.Metrics != nil {
			s.Metrics.AliasesCurrent.Dec()
		}
	}

	s.broadcast(Goodbye{ID: string(id)}, nil, log)
	log.Info().Msg("client left")
}
