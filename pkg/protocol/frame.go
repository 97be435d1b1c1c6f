package protocol

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"
)

const (
	// MaxTextSize is the largest text payload a single frame can carry (u16 length prefix)
	MaxTextSize = 65535

	// CommandPrefix marks a frame as a command rather than chat text
	CommandPrefix = "/"
)

var (
	ErrTextTooLong = errors.New("text exceeds maximum frame size (65535 bytes)")
	ErrInvalidUTF8 = errors.New("invalid UTF-8 text")
)

// WriteText writes one text frame
// Format: [Length (uint16, big-endian)][Data (N bytes UTF-8)]
func WriteText(w io.Writer, s string) error {
	if len(s) > MaxTextSize {
		return ErrTextTooLong
	}

	// Single write so a frame is never split across two Write calls
	buf := make([]byte, 2+len(s))
	putUint16(buf, uint16(len(s)))
	copy(buf[2:], s)

	_, err := w.Write(buf)
	return err
}

// ReadText reads one text frame. It returns io.EOF only when the stream
// ends cleanly before the first byte of a frame; a frame cut short
// returns io.ErrUnexpectedEOF.
func ReadText(r io.Reader) (string, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}

	length := ReadUint16Bytes(header[:])
	if length == 0 {
		return "", nil
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}

	return string(data), nil
}

// EncodeText is a helper that encodes a text frame to a byte slice
func EncodeText(s string) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := WriteText(buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeText is a helper that decodes a text frame from a byte slice
func DecodeText(data []byte) (string, error) {
	return ReadText(bytes.NewReader(data))
}

// IsCommand reports whether a frame should be dispatched as a command
func IsCommand(text string) bool {
	return len(text) > 0 && text[:1] == CommandPrefix
}
