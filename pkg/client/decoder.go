package client

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/aeolun/lanchat/pkg/protocol"
)

// EventKind identifies what the server stream produced
type EventKind int

const (
	EventMessage      EventKind = iota // one text frame
	EventDownload                      // a completed download
	EventDisconnected                  // the connection ended
)

// Event is one thing received from the server
type Event struct {
	Kind EventKind
	Text string // EventMessage

	// EventDownload
	File string // requested name
	Data []byte // raw file bytes, before it is written out
	Path string // where it was saved
	Size int64

	Err error // EventDownload write failure or EventDisconnected cause
}

// expectedDownload is a /download whose reply has not been seen yet
type expectedDownload struct {
	name     string
	success  []byte   // encoded confirmation frame
	failures [][]byte // encoded frames that mean no payload follows
}

func newExpectedDownload(name string) *expectedDownload {
	encode := func(s string) []byte {
		b, err := protocol.EncodeText(s)
		if err != nil {
			return nil
		}
		return b
	}

	d := &expectedDownload{
		name:    name,
		success: encode(protocol.DownloadConfirmation),
	}
	for _, reply := range []string{
		protocol.FileNotFoundPrefix + name,
		protocol.ReadFailedPrefix + name,
		protocol.DownloadUsage,
	} {
		if b := encode(reply); b != nil {
			d.failures = append(d.failures, b)
		}
	}
	return d
}

// streamDecoder splits the server byte stream into text frames and
// download payloads. Payloads are unframed, so while a download is
// expected the decoder buffers everything until the confirmation frame
// (or a failure reply) shows up. File content that itself contains the
// encoded confirmation frame is cut short at that point.
//
// Not safe for concurrent use.
type streamDecoder struct {
	buf    []byte
	active *expectedDownload
	queue  []*expectedDownload
}

// Expect announces a /download that is being sent
func (d *streamDecoder) Expect(name string) *expectedDownload {
	exp := newExpectedDownload(name)
	d.queue = append(d.queue, exp)
	return exp
}

// Cancel withdraws an expectation whose /download never reached the
// server. Bytes already buffered for it are decoded as frames again.
func (d *streamDecoder) Cancel(exp *expectedDownload) []Event {
	for i, q := range d.queue {
		if q == exp {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return nil
		}
	}
	if d.active != exp {
		return nil
	}
	d.active = nil
	return d.Feed(nil)
}

// Pending reports whether any download reply is still outstanding
func (d *streamDecoder) Pending() bool {
	return d.active != nil || len(d.queue) > 0
}

// Feed consumes bytes read from the connection and returns the events
// they complete
func (d *streamDecoder) Feed(data []byte) []Event {
	carried := len(d.buf) > 0
	d.buf = append(d.buf, data...)

	var events []Event
	for {
		if d.active == nil && len(d.queue) > 0 {
			if carried {
				// The frame cut off by the previous read predates the payload
				ev, ok := d.nextFrame()
				if !ok {
					return events
				}
				events = append(events, ev)
			}
			d.active = d.queue[0]
			d.queue = d.queue[1:]
		}
		carried = false

		if d.active != nil {
			evs, ok := d.scanDownload()
			if !ok {
				return events
			}
			events = append(events, evs...)
			continue
		}

		ev, ok := d.nextFrame()
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

// nextFrame pops one complete text frame off the buffer
func (d *streamDecoder) nextFrame() (Event, bool) {
	text, n, ok := decodeFrame(d.buf)
	if !ok {
		return Event{}, false
	}
	d.buf = d.buf[n:]
	return Event{Kind: EventMessage, Text: text}, true
}

// scanDownload looks for the end of the active download
func (d *streamDecoder) scanDownload() ([]Event, bool) {
	end, size, failed := -1, 0, false
	if i := bytes.Index(d.buf, d.active.success); i >= 0 {
		end, size = i, len(d.active.success)
	}
	for _, f := range d.active.failures {
		if i := bytes.Index(d.buf, f); i >= 0 && (end < 0 || i < end) {
			end, size, failed = i, len(f), true
		}
	}
	if end < 0 {
		return nil, false
	}

	var events []Event
	if failed {
		// No payload was sent, so everything before the reply is frames
		lead := d.buf[:end]
		for {
			text, n, ok := decodeFrame(lead)
			if !ok {
				break
			}
			events = append(events, Event{Kind: EventMessage, Text: text})
			lead = lead[n:]
		}
		reply, _, _ := decodeFrame(d.buf[end : end+size])
		events = append(events, Event{Kind: EventMessage, Text: reply})
	} else {
		data := make([]byte, end)
		copy(data, d.buf[:end])
		events = append(events, Event{
			Kind: EventDownload,
			File: d.active.name,
			Data: data,
			Size: int64(end),
		})
	}

	d.buf = d.buf[end+size:]
	d.active = nil
	return events, true
}

// decodeFrame decodes one frame from the front of buf. Invalid UTF-8 is
// replaced rather than rejected; the client only displays text.
func decodeFrame(buf []byte) (text string, n int, ok bool) {
	if len(buf) < 2 {
		return "", 0, false
	}
	length := int(protocol.ReadUint16Bytes(buf))
	if len(buf) < 2+length {
		return "", 0, false
	}
	body := buf[2 : 2+length]
	if !utf8.Valid(body) {
		return strings.ToValidUTF8(string(body), "�"), 2 + length, true
	}
	return string(body), 2 + length, true
}
