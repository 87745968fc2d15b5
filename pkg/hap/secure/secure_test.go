package secure

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (net.Conn, net.Conn) {
	shared := bytes.Repeat([]byte{42}, 32)

	c1, c2 := net.Pipe()

	client, err := Client(c1, shared)
	require.Nil(t, err)

	server, err := Server(c2, shared)
	require.Nil(t, err)

	return client, server
}

func TestRoundtrip(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_, _ = client.Write([]byte("ping"))
	}()

	b := make([]byte, 64)
	n, err := server.Read(b)
	require.Nil(t, err)
	require.Equal(t, "ping", string(b[:n]))

	go func() {
		_, _ = server.Write([]byte("pong"))
	}()

	n, err = client.Read(b)
	require.Nil(t, err)
	require.Equal(t, "pong", string(b[:n]))
}

// payloads over PacketSizeMax are split into multiple frames, small reads
// drain the temporary buffer
func TestBigPayload(t *testing.T) {
	client, server := pipe(t)

	src := make([]byte, PacketSizeMax*2+100)
	for i := range src {
		src[i] = byte(i)
	}

	go func() {
		n, err := client.Write(src)
		require.Nil(t, err)
		require.Equal(t, len(src), n)
	}()

	dst := make([]byte, 0, len(src))
	b := make([]byte, 100)
	for len(dst) < len(src) {
		n, err := server.Read(b)
		require.Nil(t, err)
		dst = append(dst, b[:n]...)
	}

	require.Equal(t, src, dst)
}

// the two directions use different keys, so a peer keyed the same way on
// both sides can't read its own traffic
func TestDirectionalKeys(t *testing.T) {
	shared := bytes.Repeat([]byte{42}, 32)

	c1, c2 := net.Pipe()

	client1, err := Client(c1, shared)
	require.Nil(t, err)

	client2, err := Client(c2, shared)
	require.Nil(t, err)

	go func() {
		_, _ = client1.Write([]byte("ping"))
	}()

	b := make([]byte, 64)
	_, err = client2.Read(b)
	require.NotNil(t, err)
	require.NotEqual(t, io.EOF, err)
}
