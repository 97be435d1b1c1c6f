package protocol

import (
	"encoding/binary"
	"io"
)

// WriteUint16 writes a 16-bit unsigned integer in big-endian
func WriteUint16(w io.Writer, v uint16) error {
	buf := make([]byte, 2)
	putUint16(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint16 reads a 16-bit unsigned integer in big-endian
func ReadUint16(r io.Reader) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return ReadUint16Bytes(buf), nil
}

// ReadUint16Bytes decodes a big-endian uint16 from the first two bytes of buf
func ReadUint16Bytes(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

func putUint16(buf []byte, v uint16) {
	binary.BigEndian.PutUint16(buf, v)
}
