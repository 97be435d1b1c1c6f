package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{name: "empty text", text: ""},
		{name: "plain text", text: "hello"},
		{name: "multibyte UTF-8", text: "héllo wörld ✓"},
		{name: "embedded newlines stay in one frame", text: "Available files:\na.txt\nb.txt\n"},
		{name: "max size", text: strings.Repeat("x", MaxTextSize)},
		{name: "oversized text (should fail)", text: strings.Repeat("x", MaxTextSize+1), wantErr: ErrTextTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			err := WriteText(buf, tt.text)

			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				assert.Zero(t, buf.Len(), "nothing should be written on error")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2+len(tt.text), buf.Len())

			decoded, err := ReadText(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.text, decoded)
		})
	}
}

func TestReadTextPreservesFrameBoundaries(t *testing.T) {
	buf := new(bytes.Buffer)
	for _, s := range []string{"one", "", "two three", "four\n"} {
		require.NoError(t, WriteText(buf, s))
	}

	for _, want := range []string{"one", "", "two three", "four\n"} {
		got, err := ReadText(buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ReadText(buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadTextErrors(t *testing.T) {
	t.Run("empty stream is a clean EOF", func(t *testing.T) {
		_, err := ReadText(bytes.NewReader(nil))
		assert.Equal(t, io.EOF, err)
	})

	t.Run("partial header", func(t *testing.T) {
		_, err := ReadText(bytes.NewReader([]byte{0x00}))
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})

	t.Run("header without body", func(t *testing.T) {
		_, err := ReadText(bytes.NewReader([]byte{0x00, 0x05}))
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := ReadText(bytes.NewReader([]byte{0x00, 0x05, 'h', 'e'}))
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})

	t.Run("invalid UTF-8", func(t *testing.T) {
		_, err := ReadText(bytes.NewReader([]byte{0x00, 0x02, 0xff, 0xfe}))
		assert.Equal(t, ErrInvalidUTF8, err)
	})
}

func TestEncodeDecodeText(t *testing.T) {
	data, err := EncodeText("File downloaded successfully.")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x1d}, data[:2])

	text, err := DecodeText(data)
	require.NoError(t, err)
	assert.Equal(t, "File downloaded successfully.", text)
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("/files"))
	assert.True(t, IsCommand("/"))
	assert.False(t, IsCommand(""))
	assert.False(t, IsCommand("hello /files"))
	assert.False(t, IsCommand(" /files"))
}
