package rendezvous

import (
	"context"
	"time"
)

// DefaultLivenessInterval is the ping/pong window used when RunLiveness is
// given a non-positive interval.
const DefaultLivenessInterval = 30 * time.Second

// RunLiveness runs the liveness keeper until ctx is canceled. Every interval,
// for each currently registered client transport: if its alive flag is
// still false from the previous tick, the transport is terminated (which
// triggers the goodbye procedure via the transport's own close callback);
// otherwise the flag is cleared and a ping is issued.
//
// Liveness depends only on the registry; it never touches the allocator or
// alias table directly.
func (s *Server) RunLiveness(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultLivenessInterval
	}

	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			s.tickLiveness()
		}
	}
}

func (s *Server) tickLiveness() {
	s.mu.Lock()
	clients := s.registry.Clients()
	s.mu.Unlock()

	for id, t := range clients {
		if !t.Alive() {
			s.Logger.Warn().Str("id", string(id)).Msg("liveness timeout, closing transport")
			if s.Metrics != nil {
				s.Metrics.LivenessTimeout.Inc()
			}
			t.Close()
			continue
		}
		t.SetAlive(false)
		if err := t.Ping(); err != nil {
			s.Logger.Warn().Str("id", string(id)).Err(err).Msg("ping failed")
		}
	}
}
