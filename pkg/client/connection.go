package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aeolun/lanchat/pkg/protocol"
)

// ErrNotConnected is returned when sending before Connect or after Close
var ErrNotConnected = errors.New("not connected")

// Connection represents a client connection to the server
type Connection struct {
	addr            string
	dial            func() (net.Conn, error)
	securityWarning string
	downloadDir     string

	mu           sync.Mutex // guards conn, connected and decoder
	conn         net.Conn
	connected    bool
	decoder      streamDecoder
	writeMu      sync.Mutex
	emitMu       sync.Mutex // keeps decoded events in stream order
	eventsClosed bool       // guarded by emitMu

	events chan Event

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	log zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnection creates a client connection for a tcp://, ssh://, ws:// or
// wss:// address. A bare host:port means TCP.
func NewConnection(addr string, log zerolog.Logger) (*Connection, error) {
	dialConfig, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	return &Connection{
		addr:            dialConfig.display,
		dial:            dialConfig.dial,
		securityWarning: dialConfig.warning,
		downloadDir:     "downloads",
		events:          make(chan Event, 100),
		log:             log,
		done:            make(chan struct{}),
	}, nil
}

// newConnectionWithDialer is used by tests to run over an arbitrary net.Conn
func newConnectionWithDialer(display string, dial func() (net.Conn, error)) *Connection {
	return &Connection{
		addr:        display,
		dial:        dial,
		downloadDir: "downloads",
		events:      make(chan Event, 100),
		log:         zerolog.Nop(),
		done:        make(chan struct{}),
	}
}

// SetDownloadDir sets where downloaded files are written
func (c *Connection) SetDownloadDir(dir string) {
	c.downloadDir = dir
}

// Connect dials the server and sends the username as the first frame
func (c *Connection) Connect(username string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	c.log.Debug().Str("addr", c.addr).Msg("Connecting")

	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if c.securityWarning != "" {
		c.log.Warn().Msg(c.securityWarning)
	}

	if err := protocol.WriteText(conn, username); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send username: %w", err)
	}
	c.bytesSent.Add(uint64(2 + len(username)))

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info().Str("addr", c.addr).Str("username", username).Msg("Connected")

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Send sends one line of user input. A /download with a single file name
// switches the stream into payload mode until the server's reply arrives.
func (c *Connection) Send(text string) error {
	c.mu.Lock()
	conn := c.conn
	if !c.connected || conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	// Queued before the write so the reply can never be read first
	var expected *expectedDownload
	if name, ok := downloadTarget(text); ok {
		expected = c.decoder.Expect(name)
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	err := protocol.WriteText(conn, text)
	c.writeMu.Unlock()

	if err != nil {
		if expected != nil {
			c.cancelDownload(expected)
		}
		return fmt.Errorf("write error: %w", err)
	}
	c.bytesSent.Add(uint64(2 + len(text)))
	return nil
}

// cancelDownload drops an expectation whose command was never sent and
// emits any frames the decoder had been holding back for it
func (c *Connection) cancelDownload(expected *expectedDownload) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	events := c.decoder.Cancel(expected)
	c.mu.Unlock()

	if c.eventsClosed {
		return
	}

	for _, ev := range events {
		if ev.Kind == EventDownload {
			ev = c.saveDownload(ev)
		}
		if !c.emit(ev) {
			return
		}
	}
}

// downloadTarget returns the file name when text is a well-formed /download
func downloadTarget(text string) (string, bool) {
	name, rest, _ := strings.Cut(text, " ")
	if name != "/download" {
		return "", false
	}
	args := strings.Fields(rest)
	if len(args) != 1 {
		return "", false
	}
	return args[0], true
}

// Events returns the channel of received messages, downloads and the final disconnect
func (c *Connection) Events() <-chan Event {
	return c.events
}

// IsConnected returns whether the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GetAddress returns the server address
func (c *Connection) GetAddress() string {
	return c.addr
}

// GetBytesSent returns the total bytes sent
func (c *Connection) GetBytesSent() uint64 {
	return c.bytesSent.Load()
}

// GetBytesReceived returns the total bytes received
func (c *Connection) GetBytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// Close shuts down the connection and waits for the reader to finish
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()

		c.wg.Wait()
	})
}

// readLoop feeds the byte stream through the decoder until the connection ends
func (c *Connection) readLoop(conn net.Conn) {
	defer c.wg.Done()
	defer func() {
		c.emitMu.Lock()
		c.eventsClosed = true
		close(c.events)
		c.emitMu.Unlock()
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.bytesReceived.Add(uint64(n))
			if !c.feed(buf[:n]) {
				return
			}
		}

		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()

			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.log.Info().Msg("Connection closed")
				err = nil
			} else {
				c.log.Warn().Err(err).Msg("Read error")
			}
			c.emit(Event{Kind: EventDisconnected, Err: err})
			return
		}
	}
}

// feed decodes one read and emits its events; false once closing
func (c *Connection) feed(data []byte) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	events := c.decoder.Feed(data)
	c.mu.Unlock()

	for _, ev := range events {
		if ev.Kind == EventDownload {
			ev = c.saveDownload(ev)
		}
		if !c.emit(ev) {
			return false
		}
	}
	return true
}

// emit delivers an event unless the connection is being closed
func (c *Connection) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// saveDownload writes a completed payload into the download directory
func (c *Connection) saveDownload(ev Event) Event {
	data := ev.Data
	ev.Data = nil

	// Server names are bare, but never trust them with a path
	name := filepath.Base(ev.File)
	if name == "." || name == string(filepath.Separator) {
		ev.Err = fmt.Errorf("refusing to save download with name %q", ev.File)
		return ev
	}

	if err := os.MkdirAll(c.downloadDir, 0755); err != nil {
		ev.Err = fmt.Errorf("failed to create download directory: %w", err)
		return ev
	}

	path := filepath.Join(c.downloadDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		ev.Err = fmt.Errorf("failed to save %s: %w", name, err)
		return ev
	}

	ev.Path = path
	c.log.Info().Str("file", name).Str("path", path).Int64("bytes", ev.Size).Msg("Download saved")
	return ev
}
