//go:build !linux

package server

import "github.com/rs/zerolog"

// logListenBacklog logs the listen address
func logListenBacklog(log zerolog.Logger, addr string) {
	log.Info().Str("addr", addr).Msg("TCP server listening")
}

// monitorListenOverflows has nothing to watch outside Linux
func (s *Server) monitorListenOverflows() {
	s.wg.Done()
}
