// internal/stream/udp.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UDPConfig represents UDP stream configuration. Datagrams are sent to
// Host:WritePort and received on BindAddress:ReadPort.
type UDPConfig struct {
	Host         string        `json:"host"`
	WritePort    int           `json:"write_port"`
	ReadPort     int           `json:"read_port"`
	BindAddress  string        `json:"bind_address"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// UDP implements Stream over datagram sockets. Each read returns one datagram.
type UDP struct {
	statsRecorder
	config    *UDPConfig
	logger    *zap.Logger
	mutex     sync.RWMutex
	writeMu   sync.Mutex
	writeConn *net.UDPConn
	readConn  *net.UDPConn
	isOpen    bool
}

// NewUDP creates a new UDP stream
func NewUDP(config *UDPConfig, logger *zap.Logger) *UDP {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	return &UDP{
		config: config,
		logger: logger.With(
			zap.String("stream", "udp"),
			zap.String("host", config.Host),
		),
	}
}

// Connect opens the write and read sockets
func (u *UDP) Connect(ctx context.Context) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.isOpen {
		return nil
	}

	if u.config.WritePort > 0 {
		raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.config.Host, strconv.Itoa(u.config.WritePort)))
		if err != nil {
			return fmt.Errorf("failed to resolve UDP write address: %w", err)
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			return fmt.Errorf("failed to open UDP write socket: %w", err)
		}
		u.writeConn = conn
	}

	if u.config.ReadPort > 0 {
		laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.config.BindAddress, strconv.Itoa(u.config.ReadPort)))
		if err != nil {
			u.closeLocked()
			return fmt.Errorf("failed to resolve UDP read address: %w", err)
		}
		conn, err := net.ListenUDP("udp", laddr)
		if err != nil {
			u.closeLocked()
			return fmt.Errorf("failed to open UDP read socket: %w", err)
		}
		u.readConn = conn
	}

	if u.writeConn == nil && u.readConn == nil {
		return fmt.Errorf("%w: either a write port or read port must be given", ErrNotConnected)
	}

	u.isOpen = true
	u.setConnected(true)
	u.logger.Info("UDP sockets opened",
		zap.Int("write_port", u.config.WritePort),
		zap.Int("read_port", u.config.ReadPort),
	)
	return nil
}

func (u *UDP) closeLocked() error {
	var errs []error
	if u.writeConn != nil {
		errs = append(errs, u.writeConn.Close())
		u.writeConn = nil
	}
	if u.readConn != nil {
		errs = append(errs, u.readConn.Close())
		u.readConn = nil
	}
	u.isOpen = false
	u.setConnected(false)
	return errors.Join(errs...)
}

// Disconnect closes both sockets
func (u *UDP) Disconnect() error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if err := u.closeLocked(); err != nil {
		return fmt.Errorf("failed to close UDP sockets: %w", err)
	}
	return nil
}

// Connected returns whether the sockets are open
func (u *UDP) Connected() bool {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.isOpen
}

// Read returns the next datagram
func (u *UDP) Read(ctx context.Context) ([]byte, error) {
	u.mutex.RLock()
	conn, open := u.readConn, u.isOpen
	u.mutex.RUnlock()

	if !open {
		return nil, ErrNotConnected
	}
	if conn == nil {
		return nil, ErrWriteOnly
	}

	deadline := time.Time{}
	if u.config.ReadTimeout > 0 {
		deadline = time.Now().Add(u.config.ReadTimeout)
	}
	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buffer := make([]byte, u.config.BufferSize)
	n, _, err := conn.ReadFromUDP(buffer)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrReadTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil
		}
		u.recordError()
		return nil, fmt.Errorf("failed to read from UDP socket: %w", err)
	}

	u.recordRead(n)
	return buffer[:n], nil
}

// Write sends data as one datagram
func (u *UDP) Write(ctx context.Context, data []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	u.mutex.RLock()
	conn, open := u.writeConn, u.isOpen
	u.mutex.RUnlock()

	if !open {
		return ErrNotConnected
	}
	if conn == nil {
		return ErrReadOnly
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if u.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(u.config.WriteTimeout))
	}

	startTime := time.Now()
	if _, err := conn.Write(data); err != nil {
		u.recordError()
		return fmt.Errorf("failed to write to UDP socket: %w", err)
	}
	u.recordWrite(len(data), time.Since(startTime))
	return nil
}

// LocalReadAddr returns the bound read address
func (u *UDP) LocalReadAddr() net.Addr {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	if u.readConn == nil {
		return nil
	}
	return u.readConn.LocalAddr()
}

// Type returns the stream type
func (u *UDP) Type() string {
	return "udp"
}
