package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aeolun/lanchat/pkg/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Terminal clients send no Origin worth checking
		return true
	},
}

// HandleWebSocket upgrades the request and runs a session over it
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conn := transport.NewWebSocketConn(ws)
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("New WebSocket client connected")

	// Hijacked connection; running here keeps the handler alive for the session
	s.runSession(conn, "websocket")
}
