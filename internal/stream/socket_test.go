// internal/stream/socket_test.go
package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeSocket(t *testing.T, config SocketConfig) (*Socket, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	s := NewSocket(local, local, config, nil)
	require.NoError(t, s.Connect(context.Background()))
	return s, remote
}

func Test_SocketReadWrite(t *testing.T) {
	s, remote := newPipeSocket(t, SocketConfig{})
	ctx := context.Background()

	go remote.Write([]byte("hello"))
	data, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := remote.Read(buf)
		received <- buf[:n]
	}()
	require.NoError(t, s.Write(ctx, []byte("world")))
	assert.Equal(t, []byte("world"), <-received)

	stats := s.Stats()
	assert.Equal(t, int64(5), stats.BytesRead)
	assert.Equal(t, int64(5), stats.BytesWritten)
	assert.True(t, stats.IsConnected)
}

func Test_SocketReadTimeout(t *testing.T) {
	s, _ := newPipeSocket(t, SocketConfig{ReadTimeout: 20 * time.Millisecond})

	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.True(t, s.Connected())
}

func Test_SocketPeerClosed(t *testing.T) {
	s, remote := newPipeSocket(t, SocketConfig{})
	remote.Close()

	data, err := s.Read(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func Test_SocketReadCancelled(t *testing.T) {
	s, _ := newPipeSocket(t, SocketConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func Test_SocketDisconnectWakesReader(t *testing.T) {
	s, _ := newPipeSocket(t, SocketConfig{})

	done := make(chan error, 1)
	go func() {
		data, err := s.Read(context.Background())
		assert.Nil(t, data)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Disconnect())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("read did not return after disconnect")
	}
	assert.False(t, s.Connected())

	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.Write(context.Background(), []byte{1}), ErrNotConnected)
}

func Test_SocketDirections(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	readOnly := NewSocket(nil, a, SocketConfig{}, nil)
	require.NoError(t, readOnly.Connect(context.Background()))
	assert.ErrorIs(t, readOnly.Write(context.Background(), []byte{1}), ErrReadOnly)

	writeOnly := NewSocket(b, nil, SocketConfig{}, nil)
	require.NoError(t, writeOnly.Connect(context.Background()))
	_, err := writeOnly.Read(context.Background())
	assert.ErrorIs(t, err, ErrWriteOnly)

	assert.ErrorIs(t, NewSocket(nil, nil, SocketConfig{}, nil).Connect(context.Background()), ErrNotConnected)
}

func Test_SocketProbe(t *testing.T) {
	s, remote := newPipeSocket(t, SocketConfig{})
	assert.True(t, s.Probe())

	remote.Close()
	assert.False(t, s.Probe())
}

func Test_TCPClientLoopback(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	s, err := Create(KindTCPClient, map[string]interface{}{
		"host":         "127.0.0.1",
		"port":         port,
		"read_timeout": "2s",
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	defer s.Disconnect()
	assert.True(t, s.Connected())
	assert.Equal(t, "tcp_client", s.Type())

	require.NoError(t, s.Write(ctx, []byte("PING")))
	data, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("PING"), data)

	data, err = s.Read(ctx)
	assert.NoError(t, err)
	assert.Nil(t, data, "server closed the connection")

	require.NoError(t, s.Disconnect())
	assert.False(t, s.Connected())
	assert.Equal(t, int64(4), s.Stats().BytesWritten)
}

func Test_TCPClientConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	s := NewTCPClient(&TCPClientConfig{Host: "127.0.0.1", WritePort: port, ReadPort: port, ConnectTimeout: time.Second}, nil)
	err = s.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, s.Connected())
}
