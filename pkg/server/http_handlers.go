package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aeolun/lanchat/pkg/transport"
)

// startHTTPServer serves /ws, /metrics and /health when an HTTP port is configured
func (s *Server) startHTTPServer() error {
	if s.config.HTTPPort <= 0 {
		return nil
	}

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	listener, err := listenTCP(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(transport.WebSocketPath, s.HandleWebSocket)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	s.httpListener = listener
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening (/ws, /metrics, /health)")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// HTTPAddr returns the HTTP listener address, or nil when disabled
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":          "healthy",
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"active_sessions": s.registry.Count(),
		"catalog_files":   s.catalog.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.log.Warn().Err(err).Msg("Error encoding health JSON")
	}
}
