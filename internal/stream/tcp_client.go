// internal/stream/tcp_client.go
package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TCPClientConfig represents TCP client stream configuration. When the write
// and read ports differ, two sockets are opened.
type TCPClientConfig struct {
	Host           string        `json:"host"`
	WritePort      int           `json:"write_port"`
	ReadPort       int           `json:"read_port"`
	SSL            bool          `json:"ssl"`
	KeepAlive      bool          `json:"keep_alive"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
}

// TCPClient implements Stream by dialing a remote host
type TCPClient struct {
	config *TCPClientConfig
	logger *zap.Logger
	mutex  sync.RWMutex
	socket *Socket
	closed Stats
}

// NewTCPClient creates a new TCP client stream
func NewTCPClient(config *TCPClientConfig, logger *zap.Logger) *TCPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPClient{
		config: config,
		logger: logger.With(
			zap.String("stream", "tcp_client"),
			zap.String("host", config.Host),
			zap.Int("write_port", config.WritePort),
			zap.Int("read_port", config.ReadPort),
		),
	}
}

// Connect dials the configured ports
func (tc *TCPClient) Connect(ctx context.Context) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.socket != nil && tc.socket.Connected() {
		return nil
	}

	tc.logger.Info("Opening TCP connection", zap.Bool("ssl", tc.config.SSL))

	var writeConn, readConn net.Conn
	var err error

	if tc.config.WritePort > 0 {
		if writeConn, err = tc.dial(ctx, tc.config.WritePort); err != nil {
			return err
		}
	}
	if tc.config.ReadPort > 0 {
		if tc.config.ReadPort == tc.config.WritePort {
			readConn = writeConn
		} else if readConn, err = tc.dial(ctx, tc.config.ReadPort); err != nil {
			if writeConn != nil {
				writeConn.Close()
			}
			return err
		}
	}

	socket := NewSocket(writeConn, readConn, SocketConfig{
		ReadTimeout:  tc.config.ReadTimeout,
		WriteTimeout: tc.config.WriteTimeout,
		BufferSize:   tc.config.BufferSize,
	}, tc.logger)
	if err := socket.Connect(ctx); err != nil {
		socket.Disconnect()
		return err
	}
	tc.socket = socket

	tc.logger.Info("TCP connection opened successfully")
	return nil
}

func (tc *TCPClient) dial(ctx context.Context, port int) (net.Conn, error) {
	// Create dialer with timeout
	dialer := &net.Dialer{
		Timeout:   tc.config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	if !tc.config.KeepAlive {
		dialer.KeepAlive = -1
	}

	address := net.JoinHostPort(tc.config.Host, strconv.Itoa(port))

	var conn net.Conn
	var err error
	if tc.config.SSL {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: tc.config.Host},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		tc.logger.Error("Failed to open TCP connection", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return conn, nil
}

// Disconnect closes both sockets
func (tc *TCPClient) Disconnect() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.socket == nil {
		return nil
	}
	err := tc.socket.Disconnect()
	tc.closed = tc.socket.Stats()
	tc.socket = nil

	tc.logger.Info("TCP connection closed")
	return err
}

// Connected returns whether the sockets are open
func (tc *TCPClient) Connected() bool {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.socket != nil && tc.socket.Connected()
}

// Read reads from the read socket
func (tc *TCPClient) Read(ctx context.Context) ([]byte, error) {
	tc.mutex.RLock()
	socket := tc.socket
	tc.mutex.RUnlock()
	if socket == nil {
		return nil, ErrNotConnected
	}
	return socket.Read(ctx)
}

// Write writes to the write socket
func (tc *TCPClient) Write(ctx context.Context, data []byte) error {
	tc.mutex.RLock()
	socket := tc.socket
	tc.mutex.RUnlock()
	if socket == nil {
		return ErrNotConnected
	}
	return socket.Write(ctx, data)
}

// Type returns the stream type
func (tc *TCPClient) Type() string {
	return "tcp_client"
}

// Stats returns the statistics of the current connection, or of the last one
// once disconnected
func (tc *TCPClient) Stats() Stats {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	if tc.socket != nil {
		return tc.socket.Stats()
	}
	return tc.closed
}
