package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/aeolun/lanchat/pkg/protocol"
)

// Conn wraps one accepted connection with text framing.
// Writes are serialized so frames from concurrent broadcasters never interleave.
type Conn struct {
	raw       net.Conn
	reader    *bufio.Reader
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps a net.Conn
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw:    raw,
		reader: bufio.NewReader(raw),
	}
}

// SendText writes one text frame
func (c *Conn) SendText(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.sendTextLocked(line)
}

func (c *Conn) sendTextLocked(line string) error {
	if err := protocol.WriteText(c.raw, line); err != nil {
		if errors.Is(err, protocol.ErrTextTooLong) {
			return err
		}
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// ReceiveText blocks until one whole text frame has been read.
// A clean close between frames returns ErrEndOfStream.
func (c *Conn) ReceiveText() (string, error) {
	text, err := protocol.ReadText(c.reader)
	if err != nil {
		if err == io.EOF {
			return "", ErrEndOfStream
		}
		return "", &ConnectionError{Op: "read", Err: err}
	}
	return text, nil
}

// WriteBytes writes raw, unframed bytes
func (c *Conn) WriteBytes(buf []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.raw.Write(buf); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// SendPayload streams r as raw bytes followed by a confirmation text frame.
// Both are written under one lock so no other frame can land in between.
// A failure reading r wraps ErrPayloadRead and skips the confirmation; a
// failure writing is a *ConnectionError.
func (c *Conn) SendPayload(r io.Reader, confirmation string) (int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w := &payloadWriter{w: c.raw}
	n, err := io.Copy(w, r)
	if w.err != nil {
		return n, &ConnectionError{Op: "write", Err: w.err}
	}
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrPayloadRead, err)
	}

	return n, c.sendTextLocked(confirmation)
}

// payloadWriter remembers write errors so SendPayload can tell them apart
// from read errors
type payloadWriter struct {
	w   io.Writer
	err error
}

func (p *payloadWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if err != nil {
		p.err = err
	}
	return n, err
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close closes the underlying connection; safe to call more than once
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}
