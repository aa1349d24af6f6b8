// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"groundlink/internal/discovery"
	"groundlink/internal/stream"
)

const defaultBaudRate = 9600

// ListFunc returns the serial ports of the host
type ListFunc func() ([]*enumerator.PortDetails, error)

// Config for the serial scanner
type Config struct {
	// PortPatterns are filepath.Match patterns. Empty keeps every port.
	PortPatterns []string `json:"port_patterns"`
	BaudRate     int      `json:"baud_rate"`
}

// Scanner lists serial ports
type Scanner struct {
	logger *zap.Logger
	config Config
	list   ListFunc
}

// NewScanner creates a serial scanner. A nil list uses the host enumerator.
func NewScanner(logger *zap.Logger, config Config, list ListFunc) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BaudRate <= 0 {
		config.BaudRate = defaultBaudRate
	}
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	return &Scanner{
		logger: logger.With(zap.String("scanner", stream.KindSerial)),
		config: config,
		list:   list,
	}
}

// Kind returns the stream kind of the discovered ports
func (s *Scanner) Kind() string {
	return stream.KindSerial
}

// IsAvailable reports true: the enumerator supports every platform
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan lists the serial ports matching the configured patterns
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.Port, error) {
	details, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	ports := make([]*discovery.Port, 0, len(details))
	for _, d := range details {
		if err := ctx.Err(); err != nil {
			return ports, err
		}
		if !s.matches(d.Name) {
			continue
		}

		port := &discovery.Port{
			Kind: stream.KindSerial,
			Name: d.Name,
			Stream: map[string]interface{}{
				"port":      d.Name,
				"baud_rate": s.config.BaudRate,
			},
		}
		if d.IsUSB {
			port.Description = "USB serial adapter"
			port.VendorID = hexID(d.VID)
			port.ProductID = hexID(d.PID)
			port.SerialNumber = d.SerialNumber
		}
		ports = append(ports, port)
	}

	s.logger.Debug("Serial ports listed", zap.Int("total", len(details)), zap.Int("matched", len(ports)))
	return ports, nil
}

func (s *Scanner) matches(name string) bool {
	if len(s.config.PortPatterns) == 0 {
		return true
	}
	for _, pattern := range s.config.PortPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func hexID(id string) string {
	if id == "" {
		return ""
	}
	return "0x" + strings.ToUpper(id)
}
