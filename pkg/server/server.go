package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Server owns the registry, history and file catalog and runs one session
// per accepted connection
type Server struct {
	config   ServerConfig
	log      zerolog.Logger
	registry *Registry
	history  *History
	catalog  *Catalog
	metrics  *Metrics
	promReg  *prometheus.Registry

	listener     net.Listener
	sshListener  net.Listener
	httpListener net.Listener
	httpServer   *http.Server

	liveMu sync.Mutex
	live   map[*Session]struct{} // every running session, including ones still connecting
	ssh    map[net.Conn]struct{} // SSH transports, closed on shutdown

	startTime time.Time
	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup // accept loops and HTTP server
	sessWG    sync.WaitGroup // running sessions
	sshWG     sync.WaitGroup // SSH connection handlers
}

// NewServer creates a server and scans the file catalog. An unreadable
// catalog directory is returned as a *StartupFailure.
func NewServer(config ServerConfig, log zerolog.Logger) (*Server, error) {
	catalog, err := LoadCatalog(config.FileDirs, log)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := NewMetrics(promReg)

	return &Server{
		config:   config,
		log:      log,
		registry: NewRegistry(metrics, log),
		history:  NewHistory(),
		catalog:  catalog,
		metrics:  metrics,
		promReg:  promReg,
		live:     make(map[*Session]struct{}),
		ssh:      make(map[net.Conn]struct{}),
		shutdown: make(chan struct{}),
	}, nil
}

// Start binds the listeners and starts accepting. Bind failures are
// returned as *StartupFailure.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := listenTCP(addr)
	if err != nil {
		return &StartupFailure{Stage: "listen", Err: fmt.Errorf("failed to listen on %s: %w", addr, err)}
	}
	s.listener = listener
	s.startTime = time.Now()
	logListenBacklog(s.log, listener.Addr().String())

	if err := s.startSSHServer(); err != nil {
		s.listener.Close()
		return &StartupFailure{Stage: "ssh", Err: err}
	}

	if err := s.startHTTPServer(); err != nil {
		s.listener.Close()
		if s.sshListener != nil {
			s.sshListener.Close()
		}
		return &StartupFailure{Stage: "http", Err: err}
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.monitorListenOverflows()

	return nil
}

// Addr returns the TCP listener address (useful with port 0)
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Registry returns the live session registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Catalog returns the file catalog
func (s *Server) Catalog() *Catalog {
	return s.catalog
}

// Stop closes the listeners, then makes a best-effort close of every live
// connection and waits for the sessions to finish
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}
		if s.sshListener != nil {
			s.sshListener.Close()
		}
		if s.httpServer != nil {
			s.httpServer.Close()
		}

		s.wg.Wait()

		s.liveMu.Lock()
		for sess := range s.live {
			sess.Close()
		}
		for conn := range s.ssh {
			conn.Close()
		}
		s.liveMu.Unlock()

		s.sessWG.Wait()
		s.sshWG.Wait()
		s.log.Info().Msg("Server closed")
	})
	return nil
}

// acceptLoop accepts incoming TCP connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				s.log.Error().Err(err).Msg("Accept error")
				continue
			}
		}

		// Disable Nagle's algorithm for immediate sends
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("New client connected")
		go s.runSession(conn, "tcp")
	}
}

// runSession runs a session for conn on the calling goroutine
func (s *Server) runSession(conn net.Conn, transport string) {
	sess := NewSession(conn, s.sessionDeps(transport))
	if !s.trackSession(sess) {
		conn.Close()
		return
	}
	defer s.untrackSession(sess)

	if err := sess.Run(); err != nil {
		s.log.Debug().Err(err).Str("session", sess.ID).Msg("Session ended with error")
	}
}

// trackSession records a running session unless shutdown has begun
func (s *Server) trackSession(sess *Session) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}

	s.live[sess] = struct{}{}
	s.sessWG.Add(1)
	return true
}

// trackSSHConn records an SSH transport unless shutdown has begun
func (s *Server) trackSSHConn(conn net.Conn) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}

	s.ssh[conn] = struct{}{}
	s.sshWG.Add(1)
	return true
}

func (s *Server) untrackSSHConn(conn net.Conn) {
	s.liveMu.Lock()
	delete(s.ssh, conn)
	s.liveMu.Unlock()

	s.sshWG.Done()
}

func (s *Server) untrackSession(sess *Session) {
	s.liveMu.Lock()
	delete(s.live, sess)
	s.liveMu.Unlock()

	s.sessWG.Done()
}

func (s *Server) sessionDeps(transport string) SessionDeps {
	return SessionDeps{
		Registry:         s.registry,
		History:          s.history,
		Catalog:          s.catalog,
		Metrics:          s.metrics,
		Log:              s.log,
		Transport:        transport,
		MessageRateLimit: s.config.MessageRateLimit,
		MaxMessageLength: s.config.MaxMessageLength,
	}
}
