package transport

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketPath is where servers accept WebSocket sessions
const WebSocketPath = "/ws"

// DialWebSocket connects to addr over ws:// (or wss:// when useTLS is set)
func DialWebSocket(addr string, useTLS bool) (*WebSocketConn, error) {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: addr, Path: WebSocketPath}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if strings.Contains(err.Error(), "bad handshake") {
			if useTLS {
				return nil, fmt.Errorf("TLS handshake failed - server may not support WSS (try ws:// instead): %w", err)
			}
			return nil, fmt.Errorf("handshake failed - server may require WSS/TLS (try wss:// instead): %w", err)
		}
		return nil, err
	}

	return NewWebSocketConn(ws), nil
}
