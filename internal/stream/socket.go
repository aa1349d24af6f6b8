// internal/stream/socket.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrWriteTimeout is returned when a socket write exceeds its write timeout
var ErrWriteTimeout = errors.New("stream: write timeout")

const defaultBufferSize = 65535

// SocketConfig represents socket timeouts and buffering
type SocketConfig struct {
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// Socket implements Stream over already connected sockets. The read and write
// sockets may be the same connection, and either may be nil for one way use.
type Socket struct {
	statsRecorder
	config    SocketConfig
	writeConn net.Conn
	readConn  net.Conn
	logger    *zap.Logger
	mutex     sync.RWMutex
	writeMu   sync.Mutex
	isOpen    bool
}

// NewSocket wraps connected sockets in a stream
func NewSocket(writeConn, readConn net.Conn, config SocketConfig, logger *zap.Logger) *Socket {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	return &Socket{
		config:    config,
		writeConn: writeConn,
		readConn:  readConn,
		logger:    logger.With(zap.String("stream", "socket")),
	}
}

// Connect marks the socket stream connected
func (s *Socket) Connect(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.writeConn == nil && s.readConn == nil {
		return fmt.Errorf("%w: no sockets", ErrNotConnected)
	}
	s.isOpen = true
	s.setConnected(true)
	return nil
}

// Connected returns whether the stream is open
func (s *Socket) Connected() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isOpen
}

// Disconnect closes both sockets
func (s *Socket) Disconnect() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen && s.writeConn == nil && s.readConn == nil {
		return nil
	}

	var errs []error
	if s.writeConn != nil {
		if err := s.writeConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.readConn != nil && s.readConn != s.writeConn {
		if err := s.readConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.isOpen = false
	s.setConnected(false)

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Failed to close socket", zap.Error(err))
		return fmt.Errorf("failed to close socket: %w", err)
	}
	return nil
}

// Read reads the next chunk from the read socket. A closed or reset peer
// returns nil data and a nil error.
func (s *Socket) Read(ctx context.Context) ([]byte, error) {
	s.mutex.RLock()
	conn, open := s.readConn, s.isOpen
	s.mutex.RUnlock()

	if conn == nil {
		return nil, ErrWriteOnly
	}
	if !open {
		return nil, ErrNotConnected
	}

	// Set read deadline
	deadline := time.Time{}
	if s.config.ReadTimeout > 0 {
		deadline = time.Now().Add(s.config.ReadTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil && !isClosedError(err) {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	// A cancelled context wakes the blocked read
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buffer := make([]byte, s.config.BufferSize)
	n, err := conn.Read(buffer)
	if n > 0 {
		s.recordRead(n)
		return buffer[:n], nil
	}
	if err == nil {
		return []byte{}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.recordError()
		return nil, ErrReadTimeout
	}
	if isClosedError(err) {
		return nil, nil
	}
	s.recordError()
	return nil, fmt.Errorf("failed to read from socket: %w", err)
}

// Write writes all data to the write socket
func (s *Socket) Write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mutex.RLock()
	conn, open := s.writeConn, s.isOpen
	s.mutex.RUnlock()

	if conn == nil {
		return ErrReadOnly
	}
	if !open {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Set write deadline
	deadline := time.Time{}
	if s.config.WriteTimeout > 0 {
		deadline = time.Now().Add(s.config.WriteTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil && !isClosedError(err) {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	startTime := time.Now()
	n, err := conn.Write(data)
	if err != nil {
		s.recordError()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrWriteTimeout
		}
		return fmt.Errorf("failed to write to socket: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	s.recordWrite(len(data), time.Since(startTime))
	return nil
}

// Probe reports whether a write only peer is still cleanly connected. A peer
// that closed the socket or sends data on it counts as lost.
func (s *Socket) Probe() bool {
	s.mutex.RLock()
	conn, open := s.writeConn, s.isOpen
	s.mutex.RUnlock()
	if conn == nil || !open {
		return false
	}

	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	var scratch [10]byte
	_, err := conn.Read(scratch[:])
	var netErr net.Error
	return err != nil && errors.As(err, &netErr) && netErr.Timeout()
}

// Type returns the stream type
func (s *Socket) Type() string {
	return "socket"
}

// RemoteAddr returns the peer address of the write socket, or the read socket
// for read only streams
func (s *Socket) RemoteAddr() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.writeConn != nil {
		return s.writeConn.RemoteAddr().String()
	}
	if s.readConn != nil {
		return s.readConn.RemoteAddr().String()
	}
	return ""
}

func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}
