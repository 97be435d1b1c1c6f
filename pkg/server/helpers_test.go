package server

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/lanchat/pkg/protocol"
)

const frameTimeout = 2 * time.Second

// newTestDeps returns fresh shared state for sessions under test
func newTestDeps(catalog *Catalog) SessionDeps {
	metrics := NewMetrics(prometheus.NewRegistry())
	log := zerolog.Nop()
	return SessionDeps{
		Registry:  NewRegistry(metrics, log),
		History:   NewHistory(),
		Catalog:   catalog,
		Metrics:   metrics,
		Log:       log,
		Transport: "pipe",
	}
}

// testClient is the client end of a connection. A background goroutine
// drains frames so the server side never blocks on a slow test.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	frames chan string
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Helper()

	c := &testClient{t: t, conn: conn, frames: make(chan string, 256)}
	go func() {
		defer close(c.frames)
		for {
			text, err := protocol.ReadText(conn)
			if err != nil {
				return
			}
			c.frames <- text
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return c
}

// startPipeSession runs a session over net.Pipe and returns its client end
// and a channel carrying Run's result
func startPipeSession(t *testing.T, deps SessionDeps) (*Session, *testClient, <-chan error) {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	sess := NewSession(serverSide, deps)

	done := make(chan error, 1)
	go func() {
		done <- sess.Run()
	}()

	return sess, newTestClient(t, clientSide), done
}

func (c *testClient) send(text string) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteText(c.conn, text))
}

func (c *testClient) next() string {
	c.t.Helper()
	select {
	case text, ok := <-c.frames:
		if !ok {
			c.t.Fatal("connection closed while waiting for a frame")
		}
		return text
	case <-time.After(frameTimeout):
		c.t.Fatal("timed out waiting for a frame")
	}
	return ""
}

func (c *testClient) expect(want string) {
	c.t.Helper()
	assert.Equal(c.t, want, c.next())
}

// expectClosed waits for the server to close the connection
func (c *testClient) expectClosed() {
	c.t.Helper()
	for {
		select {
		case text, ok := <-c.frames:
			if !ok {
				return
			}
			c.t.Logf("skipping frame before close: %q", text)
		case <-time.After(frameTimeout):
			c.t.Fatal("timed out waiting for the connection to close")
		}
	}
}

// join performs the handshake and consumes the welcome banner and the
// client's own join announcement
func (c *testClient) join(username string) {
	c.t.Helper()
	c.send(username)
	c.expect("Welcome, " + username + "!")
	for _, line := range helpLines {
		c.expect(line)
	}
	c.expect(username + " joined the chat.")
}

func waitForResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(frameTimeout):
		t.Fatal("timed out waiting for session to end")
	}
	return nil
}
