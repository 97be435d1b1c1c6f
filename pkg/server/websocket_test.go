package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/lanchat/pkg/transport"
)

func TestWebSocketSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileDirs = []string{newFileDir(t, map[string]string{"doc.txt": "contents"})}

	srv, err := NewServer(cfg, zerolog.Nop())
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Stop() })

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	client := newTestClient(t, transport.NewWebSocketConn(ws))
	client.join("webuser")

	client.send("/files")
	client.expect("Available files:\ndoc.txt\n")

	client.send("hello from the browser")
	client.expect("webuser: hello from the browser")

	assert.Equal(t, 1, srv.Registry().Count())
}

func TestWebSocketConnRejectsTextMessages(t *testing.T) {
	srv, err := NewServer(ServerConfig{}, zerolog.Nop())
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Stop() })

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not framed")))

	// The session treats a text message as a broken stream and closes
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}
