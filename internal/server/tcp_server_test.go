// internal/server/tcp_server_test.go
package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/internal/iface"
	"groundlink/internal/packet"
	"groundlink/internal/protocol"
	"groundlink/internal/stream"
)

var terminated = protocol.Descriptor{
	Type: "TERMINATED",
	Args: protocol.Args{
		"write_termination_characters": "0A",
		"read_termination_characters":  "0A",
	},
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newServer(t *testing.T, config iface.Config, writePort, readPort int, descs ...protocol.Descriptor) *TCPServer {
	t.Helper()
	s := New(config, &stream.TCPServerConfig{
		ListenAddress: "127.0.0.1",
		WritePort:     writePort,
		ReadPort:      readPort,
		Socket:        stream.SocketConfig{WriteTimeout: time.Second},
	}, protocol.Env{}, nil)
	for _, desc := range descs {
		require.NoError(t, s.AddProtocol(desc))
	}
	return s
}

func startServer(t *testing.T, writePort, readPort int, descs ...protocol.Descriptor) *TCPServer {
	t.Helper()
	s := newServer(t, iface.DefaultConfig("server_int"), writePort, readPort, descs...)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return line
}

func readPacket(t *testing.T, s *TCPServer) *packet.Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pkt, err := s.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	return pkt
}

func waitClients(t *testing.T, s *TCPServer, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.NumClients() == n }, 2*time.Second, 10*time.Millisecond)
}

func Test_TCPServerSinglePort(t *testing.T) {
	port := freePort(t)
	s := startServer(t, port, port, terminated)
	conn := dial(t, port)
	waitClients(t, s, 1)

	_, err := conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), readPacket(t, s).Buffer())

	require.NoError(t, s.Write(context.Background(), packet.New("", "", []byte("cmd"))))
	assert.Equal(t, "cmd\n", readLine(t, conn))

	require.Eventually(t, func() bool { return s.Status().TxBytes == 4 }, time.Second, 10*time.Millisecond)
	status := s.Status()
	assert.Equal(t, "SERVER_INT", status.Name)
	assert.Equal(t, iface.StateConnected, status.State)
	assert.Equal(t, 1, status.Clients)
	assert.EqualValues(t, 1, status.RxCount)
	assert.EqualValues(t, 6, status.RxBytes)
	assert.EqualValues(t, 1, status.TxCount)
	assert.Equal(t, 0, status.RxSize)
	assert.Equal(t, 0, status.TxSize)
}

func Test_TCPServerBroadcastIsolatesLostClients(t *testing.T) {
	port := freePort(t)
	s := startServer(t, port, port, terminated)

	conns := []net.Conn{dial(t, port), dial(t, port), dial(t, port)}
	waitClients(t, s, 3)

	require.NoError(t, conns[1].Close())
	waitClients(t, s, 2)

	require.NoError(t, s.Write(context.Background(), packet.New("", "", []byte("all"))))
	assert.Equal(t, "all\n", readLine(t, conns[0]))
	assert.Equal(t, "all\n", readLine(t, conns[2]))

	require.NoError(t, s.Write(context.Background(), packet.New("", "", []byte("again"))))
	assert.Equal(t, "again\n", readLine(t, conns[0]))
	assert.Equal(t, "again\n", readLine(t, conns[2]))
}

func Test_TCPServerSeparatePorts(t *testing.T) {
	writePort, readPort := freePort(t), freePort(t)
	s := startServer(t, writePort, readPort, terminated)
	assert.Equal(t, writePort, s.Addr("write").(*net.TCPAddr).Port)
	assert.Equal(t, readPort, s.Addr("read").(*net.TCPAddr).Port)

	listener := dial(t, writePort)
	sender := dial(t, readPort)
	waitClients(t, s, 2)

	_, err := sender.Write([]byte("tlm\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("tlm"), readPacket(t, s).Buffer())

	require.NoError(t, s.Write(context.Background(), packet.New("", "", []byte("cmd"))))
	assert.Equal(t, "cmd\n", readLine(t, listener))

	// A write client that goes away is found without a write
	require.NoError(t, listener.Close())
	waitClients(t, s, 1)

	clients := s.Clients()
	require.Len(t, clients, 1)
	assert.True(t, clients[0].Read)
	assert.False(t, clients[0].Write)
}

func Test_TCPServerWriteRaw(t *testing.T) {
	port := freePort(t)
	s := startServer(t, port, port, terminated)
	conn := dial(t, port)
	waitClients(t, s, 1)

	require.NoError(t, s.WriteRaw(context.Background(), []byte("raw")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 3)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), buf)
	assert.EqualValues(t, 0, s.Status().TxCount)
}

func Test_TCPServerCallbacks(t *testing.T) {
	port := freePort(t)
	s := newServer(t, iface.DefaultConfig("server_int"), port, port, terminated)

	var mutex sync.Mutex
	var writes, reads []*Client
	s.OnWriteConnection(func(c *Client) {
		mutex.Lock()
		defer mutex.Unlock()
		writes = append(writes, c)
	})
	s.OnReadConnection(func(c *Client) {
		mutex.Lock()
		defer mutex.Unlock()
		reads = append(reads, c)
	})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	dial(t, port)
	waitClients(t, s, 1)

	mutex.Lock()
	defer mutex.Unlock()
	require.Len(t, writes, 1)
	require.Len(t, reads, 1)
	assert.Same(t, writes[0], reads[0])

	client := writes[0]
	_, err := uuid.Parse(client.ID)
	assert.NoError(t, err)
	assert.NotEmpty(t, client.Address)
	assert.Same(t, s.Overrides(), client.Interface.Overrides())
	assert.Len(t, client.Interface.ReadProtocols(), 1)
	assert.NotSame(t, s.ReadProtocols()[0], client.Interface.ReadProtocols()[0])
}

func Test_TCPServerDisconnect(t *testing.T) {
	port := freePort(t)
	s := startServer(t, port, port, terminated)
	conn := dial(t, port)
	waitClients(t, s, 1)

	reads := make(chan *packet.Packet, 1)
	go func() {
		pkt, _ := s.Read(context.Background())
		reads <- pkt
	}()

	require.NoError(t, s.Disconnect())
	select {
	case pkt := <-reads:
		assert.Nil(t, pkt)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after disconnect")
	}
	assert.False(t, s.Connected())
	assert.Equal(t, 0, s.NumClients())
	assert.Equal(t, iface.StateDisconnected, s.Status().State)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	err = s.Write(context.Background(), packet.New("", "", []byte("x")))
	assert.ErrorIs(t, err, iface.ErrNotConnected)
	_, err = s.Read(context.Background())
	assert.ErrorIs(t, err, iface.ErrNotConnected)

	require.NoError(t, s.Connect(context.Background()))
	dial(t, port)
	waitClients(t, s, 1)
}

func Test_TCPServerGracefulKill(t *testing.T) {
	port := freePort(t)
	s := startServer(t, port, port)

	reads := make(chan *packet.Packet, 1)
	go func() {
		pkt, _ := s.Read(context.Background())
		reads <- pkt
	}()

	time.Sleep(20 * time.Millisecond)
	s.GracefulKill()
	select {
	case pkt := <-reads:
		assert.Nil(t, pkt)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after graceful kill")
	}
	assert.False(t, s.Connected())

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.Connected())
}

func Test_TCPServerPermissions(t *testing.T) {
	port := freePort(t)
	config := iface.DefaultConfig("server_int")
	config.ReadAllowed = false
	config.WriteRawAllowed = false
	s := newServer(t, config, port, port, terminated)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	conn := dial(t, port)
	waitClients(t, s, 1)

	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, iface.ErrReadNotAllowed)
	assert.ErrorIs(t, s.WriteRaw(context.Background(), []byte("x")), iface.ErrWriteRawNotAllowed)

	require.NoError(t, s.Write(context.Background(), packet.New("", "", []byte("ok"))))
	assert.Equal(t, "ok\n", readLine(t, conn))
}

func Test_TCPServerPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := newServer(t, iface.DefaultConfig("server_int"), port, port)
	err = s.Connect(context.Background())
	assert.ErrorContains(t, err, "error binding to port")
	assert.False(t, s.Connected())
}

func Test_TCPServerRunsUnderRunner(t *testing.T) {
	port := freePort(t)
	config := iface.DefaultConfig("server_int")
	config.ReconnectDelay = 10 * time.Millisecond
	s := newServer(t, config, port, port, terminated)

	var mutex sync.Mutex
	var received []string
	r := iface.NewRunner(s, nil)
	r.OnPacket(func(link string, pkt *packet.Packet) {
		mutex.Lock()
		defer mutex.Unlock()
		received = append(received, link+":"+string(pkt.Buffer()))
	})
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)
	conn := dial(t, port)
	_, err := conn.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mutex.Lock()
	assert.Equal(t, []string{"SERVER_INT:one", "SERVER_INT:two"}, received)
	mutex.Unlock()
}

func Test_TCPServerDropsQueuedWritesOnDisconnect(t *testing.T) {
	port := freePort(t)
	s := newServer(t, iface.DefaultConfig("server_int"), port, port, terminated)
	for n := 0; n < 3; n++ {
		s.writeQueue <- packet.New("", "", []byte("stale"))
		s.rawQueue <- []byte("stale\n")
	}
	require.NoError(t, s.Disconnect())
	assert.Equal(t, 0, s.WriteQueueSize())
	assert.Empty(t, s.rawQueue)

	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Disconnect() })
	require.NoError(t, s.Disconnect())
	s.writeQueue <- packet.New("", "", []byte("stale"))

	require.NoError(t, s.Connect(context.Background()))
	conn := dial(t, port)
	waitClients(t, s, 1)
	require.NoError(t, s.Write(context.Background(), packet.New("", "", []byte("fresh"))))
	assert.Equal(t, "fresh\n", readLine(t, conn))
}
