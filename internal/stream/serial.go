// internal/stream/serial.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// serialPollInterval bounds each blocking port read so cancellation is noticed
const serialPollInterval = 100 * time.Millisecond

// SerialConfig represents serial stream configuration. A write and read port
// with the same name share one opened port.
type SerialConfig struct {
	WritePort    string        `json:"write_port"`
	ReadPort     string        `json:"read_port"`
	BaudRate     int           `json:"baud_rate"`
	DataBits     int           `json:"data_bits"`
	StopBits     int           `json:"stop_bits"`
	Parity       string        `json:"parity"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// Serial implements Stream over one or two serial ports
type Serial struct {
	statsRecorder
	config    *SerialConfig
	logger    *zap.Logger
	mutex     sync.RWMutex
	writeMu   sync.Mutex
	writePort serial.Port
	readPort  serial.Port
	isOpen    bool
}

// NewSerial creates a new serial stream
func NewSerial(config *SerialConfig, logger *zap.Logger) *Serial {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	return &Serial{
		config: config,
		logger: logger.With(
			zap.String("stream", "serial"),
			zap.String("write_port", config.WritePort),
			zap.String("read_port", config.ReadPort),
		),
	}
}

func (s *Serial) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: s.config.BaudRate,
		DataBits: s.config.DataBits,
	}

	switch s.config.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits: %d", s.config.StopBits)
	}

	// Set parity
	switch strings.ToLower(s.config.Parity) {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity: %s", s.config.Parity)
	}
	return mode, nil
}

// Connect opens the configured ports
func (s *Serial) Connect(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isOpen {
		return nil
	}
	if s.config.WritePort == "" && s.config.ReadPort == "" {
		return fmt.Errorf("%w: either a write port or read port must be given", ErrNotConnected)
	}

	mode, err := s.mode()
	if err != nil {
		return err
	}

	s.logger.Info("Opening serial port", zap.Int("baud_rate", s.config.BaudRate))

	if s.config.WritePort != "" {
		port, err := serial.Open(s.config.WritePort, mode)
		if err != nil {
			s.logger.Error("Failed to open serial port", zap.Error(err))
			return fmt.Errorf("failed to open serial port %s: %w", s.config.WritePort, err)
		}
		s.writePort = port
	}
	if s.config.ReadPort != "" {
		if s.config.ReadPort == s.config.WritePort {
			s.readPort = s.writePort
		} else {
			port, err := serial.Open(s.config.ReadPort, mode)
			if err != nil {
				s.closeLocked()
				s.logger.Error("Failed to open serial port", zap.Error(err))
				return fmt.Errorf("failed to open serial port %s: %w", s.config.ReadPort, err)
			}
			s.readPort = port
		}
		if err := s.readPort.SetReadTimeout(serialPollInterval); err != nil {
			s.closeLocked()
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	s.isOpen = true
	s.setConnected(true)
	s.logger.Info("Serial port opened successfully")
	return nil
}

func (s *Serial) closeLocked() error {
	var errs []error
	if s.writePort != nil {
		errs = append(errs, s.writePort.Close())
	}
	if s.readPort != nil && s.readPort != s.writePort {
		errs = append(errs, s.readPort.Close())
	}
	s.writePort = nil
	s.readPort = nil
	s.isOpen = false
	s.setConnected(false)
	return errors.Join(errs...)
}

// Disconnect closes the ports
func (s *Serial) Disconnect() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil
	}
	if err := s.closeLocked(); err != nil {
		s.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	s.logger.Info("Serial port closed successfully")
	return nil
}

// Connected returns whether the ports are open
func (s *Serial) Connected() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isOpen
}

// Read polls the read port until data arrives, the context ends or the read
// timeout elapses
func (s *Serial) Read(ctx context.Context) ([]byte, error) {
	s.mutex.RLock()
	port, open := s.readPort, s.isOpen
	s.mutex.RUnlock()

	if !open {
		return nil, ErrNotConnected
	}
	if port == nil {
		return nil, ErrWriteOnly
	}

	var deadline time.Time
	if s.config.ReadTimeout > 0 {
		deadline = time.Now().Add(s.config.ReadTimeout)
	}

	buffer := make([]byte, s.config.BufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := port.Read(buffer)
		if err != nil {
			var portErr *serial.PortError
			if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
				return nil, nil
			}
			s.recordError()
			return nil, fmt.Errorf("failed to read from serial port: %w", err)
		}
		if n > 0 {
			s.recordRead(n)
			return buffer[:n], nil
		}
		if !s.Connected() {
			return nil, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrReadTimeout
		}
	}
}

// Write writes data to the write port
func (s *Serial) Write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mutex.RLock()
	port, open := s.writePort, s.isOpen
	s.mutex.RUnlock()

	if !open {
		return ErrNotConnected
	}
	if port == nil {
		return ErrReadOnly
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	startTime := time.Now()
	n, err := port.Write(data)
	if err != nil {
		s.recordError()
		s.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}
	if s.config.WriteTimeout > 0 && time.Since(startTime) > s.config.WriteTimeout {
		s.recordError()
		return ErrWriteTimeout
	}

	s.recordWrite(len(data), time.Since(startTime))
	return nil
}

// Type returns the stream type
func (s *Serial) Type() string {
	return "serial"
}
