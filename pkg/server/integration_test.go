package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/lanchat/pkg/protocol"
)

// Integration test helpers

// startTestServer starts a real server on a random port and returns the server and address
func startTestServer(t *testing.T, config ServerConfig) (*Server, string) {
	t.Helper()

	config.TCPPort = 0
	config.SSHPort = 0
	config.HTTPPort = 0

	srv, err := NewServer(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	t.Cleanup(func() {
		srv.Stop()
	})

	return srv, srv.Addr().String()
}

// tcpClient is a raw protocol client over TCP
type tcpClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// connectTCPClient connects a raw TCP client to the server
func connectTCPClient(t *testing.T, addr string) *tcpClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &tcpClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *tcpClient) send(text string) {
	c.t.Helper()
	if err := protocol.WriteText(c.conn, text); err != nil {
		c.t.Fatalf("Failed to send %q: %v", text, err)
	}
}

// read reads one text frame with a timeout
func (c *tcpClient) read() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(frameTimeout)); err != nil {
		return "", err
	}
	defer c.conn.SetReadDeadline(time.Time{})

	return protocol.ReadText(c.reader)
}

func (c *tcpClient) expect(want string) {
	c.t.Helper()
	got, err := c.read()
	if err != nil {
		c.t.Fatalf("Failed to read frame (want %q): %v", want, err)
	}
	if got != want {
		c.t.Fatalf("Expected %q, got %q", want, got)
	}
}

func (c *tcpClient) join(username string) {
	c.t.Helper()
	c.send(username)
	c.expect("Welcome, " + username + "!")
	for _, line := range helpLines {
		c.expect(line)
	}
	c.expect(username + " joined the chat.")
}

// waitForCount polls until the registry reaches want
func waitForCount(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for time.Now().Before(deadline) {
		if srv.Registry().Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d registered sessions, got %d", want, srv.Registry().Count())
}

func newFileDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// Tests

func TestIntegrationChatFlow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileDirs = []string{newFileDir(t, nil)}
	srv, addr := startTestServer(t, cfg)

	alice := connectTCPClient(t, addr)
	alice.join("alice")

	bob := connectTCPClient(t, addr)
	bob.join("bob")
	alice.expect("bob joined the chat.")

	alice.send("hi bob")
	alice.expect("alice: hi bob")
	bob.expect("alice: hi bob")

	bob.send("/history")
	bob.expect(NoHistoryReply)

	alice.send("/history")
	alice.expect("Chat history:\nhi bob\n")

	bob.conn.Close()
	alice.expect("bob left the chat.")
	waitForCount(t, srv, 1)
}

func TestIntegrationDownload(t *testing.T) {
	content := strings.Repeat("0123456789abcdef", 4096) + "tail"
	dir := newFileDir(t, map[string]string{"big.bin": content, "small.txt": "hi"})

	cfg := DefaultConfig()
	cfg.FileDirs = []string{dir}
	_, addr := startTestServer(t, cfg)

	client := connectTCPClient(t, addr)
	client.join("alice")

	client.send("/files")
	got, err := client.read()
	if err != nil {
		t.Fatalf("Failed to read listing: %v", err)
	}
	if !strings.HasPrefix(got, "Available files:\n") || !strings.Contains(got, "big.bin\n") || !strings.Contains(got, "small.txt\n") {
		t.Fatalf("Unexpected listing %q", got)
	}

	client.send("/download big.bin")

	client.conn.SetReadDeadline(time.Now().Add(frameTimeout))
	buf := make([]byte, len(content))
	if _, err := io.ReadFull(client.reader, buf); err != nil {
		t.Fatalf("Failed to read payload: %v", err)
	}
	client.conn.SetReadDeadline(time.Time{})

	if string(buf) != content {
		t.Fatal("Downloaded payload does not match file contents")
	}
	client.expect(DownloadConfirmation)

	client.send("/download missing.txt")
	client.expect("File not found: missing.txt")

	// Session still usable afterwards
	client.send("done")
	client.expect("alice: done")
}

func TestIntegrationDisconnectDuringBroadcast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileDirs = []string{newFileDir(t, nil)}
	srv, addr := startTestServer(t, cfg)

	alice := connectTCPClient(t, addr)
	alice.join("alice")
	bob := connectTCPClient(t, addr)
	bob.join("bob")
	alice.expect("bob joined the chat.")
	carol := connectTCPClient(t, addr)
	carol.join("carol")
	alice.expect("carol joined the chat.")
	bob.expect("carol joined the chat.")

	// carol vanishes while alice keeps talking
	carol.conn.Close()

	var seenLeft bool
	for i := 0; i < 5; i++ {
		msg := fmt.Sprintf("msg %d", i)
		alice.send(msg)

		for {
			got, err := bob.read()
			if err != nil {
				t.Fatalf("bob failed to read: %v", err)
			}
			if got == "carol left the chat." {
				seenLeft = true
				continue
			}
			if got != "alice: "+msg {
				t.Fatalf("bob expected %q, got %q", "alice: "+msg, got)
			}
			break
		}
	}

	if !seenLeft {
		bob.expect("carol left the chat.")
	}
	waitForCount(t, srv, 2)
}

func TestIntegrationConcurrentClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileDirs = []string{newFileDir(t, nil)}
	srv, addr := startTestServer(t, cfg)

	const clients = 10
	var wg sync.WaitGroup
	errs := make(chan error, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			reader := bufio.NewReader(conn)

			name := fmt.Sprintf("user%d", i)
			if err := protocol.WriteText(conn, name); err != nil {
				errs <- err
				return
			}
			want := "Welcome, " + name + "!"
			conn.SetReadDeadline(time.Now().Add(frameTimeout))
			got, err := protocol.ReadText(reader)
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- fmt.Errorf("expected %q, got %q", want, got)
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	waitForCount(t, srv, 0)
}

func TestIntegrationStopClosesClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileDirs = []string{newFileDir(t, nil)}
	srv, addr := startTestServer(t, cfg)

	client := connectTCPClient(t, addr)
	client.join("alice")

	// A connection that never sends its username
	idle := connectTCPClient(t, addr)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(frameTimeout):
		t.Fatal("Stop did not return")
	}

	if _, err := client.read(); err == nil {
		t.Fatal("Expected connection to be closed after Stop")
	}
	if _, err := idle.read(); err == nil {
		t.Fatal("Expected idle connection to be closed after Stop")
	}

	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatal("Expected listener to be closed after Stop")
	}
}

func TestStartFailsWhenPortInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()

	cfg := DefaultConfig()
	cfg.FileDirs = []string{newFileDir(t, nil)}
	cfg.TCPPort = occupied.Addr().(*net.TCPAddr).Port

	srv, err := NewServer(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	err = srv.Start()
	var failure *StartupFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected StartupFailure, got %v", err)
	}
	if failure.Stage != "listen" {
		t.Fatalf("Expected listen stage, got %s", failure.Stage)
	}
}

func TestNewServerFailsOnMissingFileDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileDirs = []string{filepath.Join(t.TempDir(), "nope")}

	_, err := NewServer(cfg, zerolog.Nop())
	var failure *StartupFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected StartupFailure, got %v", err)
	}
	if failure.Stage != "catalog" {
		t.Fatalf("Expected catalog stage, got %s", failure.Stage)
	}
}

func TestHealthHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileDirs = []string{newFileDir(t, map[string]string{"a.txt": "a", "b.txt": "b"})}
	srv, addr := startTestServer(t, cfg)

	client := connectTCPClient(t, addr)
	client.join("alice")

	rec := httptest.NewRecorder()
	srv.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
		CatalogFiles   int    `json:"catalog_files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Status != "healthy" || body.ActiveSessions != 1 || body.CatalogFiles != 2 {
		t.Fatalf("Unexpected health body: %+v", body)
	}
}
