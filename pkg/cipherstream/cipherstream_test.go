package cipherstream

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, data []byte, cbs ...Option) {
	t.Helper()
	// The cipher XORs the caller's buffer in place; keep the original.
	want := append([]byte(nil), data...)
	var wire bytes.Buffer
	conn := New(&wire, cbs...)
	n, err := conn.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(want), n)

	out := make([]byte, 0, len(want))
	buf := make([]byte, 1024)
	for len(out) < len(want) {
		n, err = conn.Read(buf)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
	}
	require.Equal(t, want, out)
}

func TestPlainRoundTrip(t *testing.T) {
	roundTrip(t, []byte("plain bytes"))
}

func TestCipherRoundTrip(t *testing.T) {
	roundTrip(t, []byte(strings.Repeat("secret payload ", 200)), WithCipher([]byte("k3y")))
}

func TestCompressedRoundTrip(t *testing.T) {
	roundTrip(t, []byte(strings.Repeat("compressible ", 100)), WithCompress(), WithCipher([]byte("k3y")))
}

func TestCipherObscuresWire(t *testing.T) {
	var wire bytes.Buffer
	conn := New(&wire, WithCipher([]byte("k3y")))
	payload := []byte(strings.Repeat("finding this would be bad", 50))
	_, err := conn.Write(append([]byte(nil), payload...))
	require.NoError(t, err)
	require.NotContains(t, wire.String(), "finding this would be bad")
}

func TestRejectsUnknownVersion(t *testing.T) {
	wire := bytes.NewBuffer([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0xAA})
	conn := New(wire)
	_, err := conn.Read(make([]byte, 8))
	require.Error(t, err)
}

func TestShortRecord(t *testing.T) {
	var wire bytes.Buffer
	conn := New(&wire)
	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)
	truncated := New(bytes.NewReader(wire.Bytes()[:wire.Len()-2]))
	_, err = truncated.Read(make([]byte, 8))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
