package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades /ws and echoes stream bytes back through the adapter
func echoServer(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebSocketConn(ws)
		defer conn.Close()
		io.Copy(conn, conn)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestWebSocketConnStreamsAcrossMessages(t *testing.T) {
	conn, err := DialWebSocket(echoServer(t), false)
	require.NoError(t, err)
	defer conn.Close()

	// Two writes, read back in arbitrary chunk sizes
	_, err = conn.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = conn.Write([]byte("world"))
	require.NoError(t, err)

	buf := make([]byte, len("hello world"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))
}

func TestWebSocketConnWriteAfterClose(t *testing.T) {
	conn, err := DialWebSocket(echoServer(t), false)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "close is idempotent")

	_, err = conn.Write([]byte("late"))
	assert.Error(t, err)
}

func TestDialWebSocketFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := DialWebSocket(strings.TrimPrefix(ts.URL, "http://"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake failed")
}
