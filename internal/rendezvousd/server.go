package rendezvousd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/pg9182/rendezvous/internal/metrics"
	"github.com/pg9182/rendezvous/internal/rendezvous"
	"github.com/pg9182/rendezvous/internal/transport"
)

// Server wires a rendezvous.Server to an HTTP listener, a websocket upgrade
// handler, and a /metrics endpoint.
type Server struct {
	Logger  zerolog.Logger
	Addr    string
	Core    *rendezvous.Server
	Metrics *metrics.Metrics

	metricsSecret string
	maxConns      int

	mu     sync.Mutex
	closed bool
}

// NewServer builds a Server from c. The returned value owns a fresh
// rendezvous.Server and reports into the process-wide metrics set.
func NewServer(c *Config) (*Server, error) {
	if c.Addr == "" {
		return nil, fmt.Errorf("no listen address provided")
	}

	var logger zerolog.Logger
	if c.LogStdoutPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(c.LogLevel).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(c.LogLevel).With().Timestamp().Logger()
	}

	m := metrics.Get()
	core := rendezvous.NewServer(logger)
	core.Metrics = m

	if c.MinProtocolVersion != "" {
		logger.Info().Str("min_protocol_version", c.MinProtocolVersion).Msg("minimum protocol version configured")
	}

	return &Server{
		Logger:        logger,
		Addr:          c.Addr,
		Core:          core,
		Metrics:       m,
		metricsSecret: c.MetricsSecret,
		maxConns:      c.MaxConns,
	}, nil
}

// Handler builds the HTTP mux: a websocket upgrade endpoint at "/" and a
// Prometheus exposition endpoint at "/metrics".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := transport.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	log := s.Logger.With().Str("remote", ws.RemoteAddr().String()).Logger()

	var conn *transport.Conn
	var c *rendezvous.Conn
	conn = transport.NewConn(ws, log, func() {
		s.Core.Close(c)
	})
	c = s.Core.Open(conn)

	log.Info().Msg("connection opened")
	conn.ReadLoop(func(raw []byte) error {
		return s.Core.Dispatch(c, raw)
	})
	log.Info().Msg("connection closed")
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metricsSecret != "" && r.URL.Query().Get("secret") != s.metricsSecret {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	metrics.WritePrometheus(w)
}

// Run starts the HTTP listener and the liveness keeper, shutting both down
// gracefully when ctx is canceled. It must only ever be called once.
func (s *Server) Run(ctx context.Context, livenessInterval time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.mu.Unlock()

	go s.Core.RunLiveness(ctx, livenessInterval)

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	hs := &http.Server{
		Handler: s.Handler(),
	}
	s.Logger.Info().Str("addr", s.Addr).Int("max_conns", s.maxConns).Msg("starting rendezvous server")

	errch := make(chan error, 1)
	go func() {
		errch <- hs.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.Logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	case err := <-errch:
		if err != nil && !strings.Contains(err.Error(), "Server closed") {
			s.Logger.Err(err).Msg("failed to start server")
		}
		return err
	}
}
