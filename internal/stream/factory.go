// internal/stream/factory.go
package stream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Stream kinds understood by Create
const (
	KindTCPClient = "tcp_client"
	KindTCPServer = "tcp_server"
	KindUDP       = "udp"
	KindSerial    = "serial"
	KindUSB       = "usb"
	KindLoopback  = "loopback"
	KindMemory    = "memory"
)

// Create creates a stream based on kind and map configuration
func Create(kind string, config map[string]interface{}, logger *zap.Logger) (Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateConfig(kind, config); err != nil {
		return nil, err
	}

	switch strings.ToLower(kind) {
	case KindTCPClient:
		return createTCPClient(config, logger)
	case KindUDP:
		return createUDP(config, logger)
	case KindSerial:
		return createSerial(config, logger)
	case KindUSB:
		return createUSB(config, logger)
	case KindLoopback:
		return NewMemory(true), nil
	case KindMemory:
		return NewMemory(false), nil
	case KindTCPServer:
		return nil, fmt.Errorf("tcp_server streams are created per accepted client")
	default:
		return nil, fmt.Errorf("unsupported stream type: %s", kind)
	}
}

// TCPServerConfig represents the listeners of a fan-out server and the
// sockets of its clients
type TCPServerConfig struct {
	ListenAddress string       `json:"listen_address"`
	WritePort     int          `json:"write_port"`
	ReadPort      int          `json:"read_port"`
	Socket        SocketConfig `json:"socket"`
}

// ParseTCPServerConfig parses map configuration for a TCP server
func ParseTCPServerConfig(config map[string]interface{}) (*TCPServerConfig, error) {
	if err := ValidateConfig(KindTCPServer, config); err != nil {
		return nil, err
	}

	serverConfig := &TCPServerConfig{ListenAddress: "0.0.0.0"}
	if address, ok := config["listen_address"].(string); ok && address != "" {
		serverConfig.ListenAddress = address
	}

	var err error
	if serverConfig.WritePort, err = intValue(config, "write_port", 0); err != nil {
		return nil, err
	}
	if serverConfig.ReadPort, err = intValue(config, "read_port", 0); err != nil {
		return nil, err
	}
	if port, err := intValue(config, "port", 0); err != nil {
		return nil, err
	} else if port > 0 {
		serverConfig.WritePort, serverConfig.ReadPort = port, port
	}
	if serverConfig.Socket.BufferSize, err = intValue(config, "buffer_size", defaultBufferSize); err != nil {
		return nil, err
	}
	if serverConfig.Socket.ReadTimeout, err = durationValue(config, "read_timeout", 0); err != nil {
		return nil, err
	}
	if serverConfig.Socket.WriteTimeout, err = durationValue(config, "write_timeout", 10*time.Second); err != nil {
		return nil, err
	}
	return serverConfig, nil
}

// createTCPClient creates a TCP client stream
func createTCPClient(config map[string]interface{}, logger *zap.Logger) (Stream, error) {
	tcpConfig := &TCPClientConfig{
		KeepAlive:      true,
		BufferSize:     defaultBufferSize,
		ConnectTimeout: 10 * time.Second,
	}

	tcpConfig.Host, _ = config["host"].(string)

	var err error
	if tcpConfig.WritePort, err = intValue(config, "write_port", 0); err != nil {
		return nil, err
	}
	if tcpConfig.ReadPort, err = intValue(config, "read_port", 0); err != nil {
		return nil, err
	}
	// A single port is used for both directions
	if port, err := intValue(config, "port", 0); err != nil {
		return nil, err
	} else if port > 0 {
		tcpConfig.WritePort, tcpConfig.ReadPort = port, port
	}
	if tcpConfig.SSL, err = boolValue(config, "ssl", false); err != nil {
		return nil, err
	}
	if tcpConfig.KeepAlive, err = boolValue(config, "keep_alive", true); err != nil {
		return nil, err
	}
	if tcpConfig.BufferSize, err = intValue(config, "buffer_size", defaultBufferSize); err != nil {
		return nil, err
	}
	if tcpConfig.ConnectTimeout, err = durationValue(config, "connect_timeout", tcpConfig.ConnectTimeout); err != nil {
		return nil, err
	}
	if tcpConfig.ReadTimeout, err = durationValue(config, "read_timeout", 0); err != nil {
		return nil, err
	}
	if tcpConfig.WriteTimeout, err = durationValue(config, "write_timeout", 10*time.Second); err != nil {
		return nil, err
	}

	logger.Info("Creating TCP client stream",
		zap.String("host", tcpConfig.Host),
		zap.Int("write_port", tcpConfig.WritePort),
		zap.Int("read_port", tcpConfig.ReadPort),
		zap.Bool("ssl", tcpConfig.SSL),
	)

	return NewTCPClient(tcpConfig, logger), nil
}

// createUDP creates a UDP stream
func createUDP(config map[string]interface{}, logger *zap.Logger) (Stream, error) {
	udpConfig := &UDPConfig{BindAddress: "0.0.0.0"}

	udpConfig.Host, _ = config["host"].(string)
	if bind, ok := config["bind_address"].(string); ok {
		udpConfig.BindAddress = bind
	}

	var err error
	if udpConfig.WritePort, err = intValue(config, "write_port", 0); err != nil {
		return nil, err
	}
	if udpConfig.ReadPort, err = intValue(config, "read_port", 0); err != nil {
		return nil, err
	}
	if udpConfig.BufferSize, err = intValue(config, "buffer_size", defaultBufferSize); err != nil {
		return nil, err
	}
	if udpConfig.ReadTimeout, err = durationValue(config, "read_timeout", 0); err != nil {
		return nil, err
	}
	if udpConfig.WriteTimeout, err = durationValue(config, "write_timeout", 10*time.Second); err != nil {
		return nil, err
	}

	logger.Info("Creating UDP stream",
		zap.String("host", udpConfig.Host),
		zap.Int("write_port", udpConfig.WritePort),
		zap.Int("read_port", udpConfig.ReadPort),
	)

	return NewUDP(udpConfig, logger), nil
}

// createSerial creates a serial stream
func createSerial(config map[string]interface{}, logger *zap.Logger) (Stream, error) {
	serialConfig := &SerialConfig{
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
	}

	serialConfig.WritePort, _ = config["write_port"].(string)
	serialConfig.ReadPort, _ = config["read_port"].(string)
	if port, ok := config["port"].(string); ok && port != "" {
		serialConfig.WritePort, serialConfig.ReadPort = port, port
	}
	if parity, ok := config["parity"].(string); ok {
		serialConfig.Parity = parity
	}

	var err error
	if serialConfig.BaudRate, err = intValue(config, "baud_rate", serialConfig.BaudRate); err != nil {
		return nil, err
	}
	if serialConfig.DataBits, err = intValue(config, "data_bits", serialConfig.DataBits); err != nil {
		return nil, err
	}
	if serialConfig.StopBits, err = intValue(config, "stop_bits", serialConfig.StopBits); err != nil {
		return nil, err
	}
	if serialConfig.BufferSize, err = intValue(config, "buffer_size", 1024); err != nil {
		return nil, err
	}
	if serialConfig.ReadTimeout, err = durationValue(config, "read_timeout", 0); err != nil {
		return nil, err
	}
	if serialConfig.WriteTimeout, err = durationValue(config, "write_timeout", 10*time.Second); err != nil {
		return nil, err
	}

	logger.Info("Creating serial stream",
		zap.String("write_port", serialConfig.WritePort),
		zap.String("read_port", serialConfig.ReadPort),
		zap.Int("baud_rate", serialConfig.BaudRate),
	)

	return NewSerial(serialConfig, logger), nil
}

// createUSB creates a USB stream
func createUSB(config map[string]interface{}, logger *zap.Logger) (Stream, error) {
	usbConfig := &USBConfig{}

	usbConfig.VendorID, _ = config["vendor_id"].(string)
	usbConfig.ProductID, _ = config["product_id"].(string)
	usbConfig.SerialNumber, _ = config["serial_number"].(string)

	var err error
	if usbConfig.InEndpoint, err = intValue(config, "in_endpoint", 1); err != nil {
		return nil, err
	}
	if usbConfig.OutEndpoint, err = intValue(config, "out_endpoint", 1); err != nil {
		return nil, err
	}
	if usbConfig.BufferSize, err = intValue(config, "buffer_size", 512); err != nil {
		return nil, err
	}
	if usbConfig.ReadTimeout, err = durationValue(config, "read_timeout", 0); err != nil {
		return nil, err
	}
	if usbConfig.WriteTimeout, err = durationValue(config, "write_timeout", 5*time.Second); err != nil {
		return nil, err
	}

	logger.Info("Creating USB stream",
		zap.String("vendor_id", usbConfig.VendorID),
		zap.String("product_id", usbConfig.ProductID),
	)

	return NewUSB(usbConfig, logger), nil
}

// ValidateConfig validates configuration for a specific stream kind
func ValidateConfig(kind string, config map[string]interface{}) error {
	switch strings.ToLower(kind) {
	case KindTCPClient:
		return validateTCPClientConfig(config)
	case KindUDP:
		return validateUDPConfig(config)
	case KindSerial:
		return validateSerialConfig(config)
	case KindUSB:
		return validateUSBConfig(config)
	case KindTCPServer:
		return validatePorts(config, "port", "write_port", "read_port")
	case KindLoopback, KindMemory:
		return nil
	default:
		return fmt.Errorf("unsupported stream type: %s", kind)
	}
}

func validateTCPClientConfig(config map[string]interface{}) error {
	if host, _ := config["host"].(string); host == "" {
		return fmt.Errorf("TCP host is required")
	}
	return validatePorts(config, "port", "write_port", "read_port")
}

func validateUDPConfig(config map[string]interface{}) error {
	writePort, err := intValue(config, "write_port", 0)
	if err != nil {
		return err
	}
	if host, _ := config["host"].(string); writePort > 0 && host == "" {
		return fmt.Errorf("UDP host is required for a write port")
	}
	return validatePorts(config, "write_port", "read_port")
}

func validatePorts(config map[string]interface{}, keys ...string) error {
	found := false
	for _, key := range keys {
		if _, ok := config[key]; !ok {
			continue
		}
		port, err := intValue(config, key, 0)
		if err != nil {
			return err
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d", port)
		}
		found = true
	}
	if !found {
		return fmt.Errorf("either a write port or read port must be given")
	}
	return nil
}

// validateSerialConfig validates serial configuration
func validateSerialConfig(config map[string]interface{}) error {
	port, _ := config["port"].(string)
	writePort, _ := config["write_port"].(string)
	readPort, _ := config["read_port"].(string)
	if port == "" && writePort == "" && readPort == "" {
		return fmt.Errorf("either a write port or read port must be given")
	}

	if _, ok := config["baud_rate"]; ok {
		rate, err := intValue(config, "baud_rate", 0)
		if err != nil {
			return err
		}

		validRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}
		valid := false
		for _, validRate := range validRates {
			if rate == validRate {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid baud rate: %d", rate)
		}
	}

	return nil
}

// validateUSBConfig validates USB configuration
func validateUSBConfig(config map[string]interface{}) error {
	vendorID, _ := config["vendor_id"].(string)
	if _, err := ParseHexID(vendorID); err != nil {
		return fmt.Errorf("USB vendor_id is required: %w", err)
	}
	productID, _ := config["product_id"].(string)
	if _, err := ParseHexID(productID); err != nil {
		return fmt.Errorf("USB product_id is required: %w", err)
	}
	return nil
}

func intValue(config map[string]interface{}, key string, def int) (int, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid %s type", key)
	}
}

func boolValue(config map[string]interface{}, key string, def bool) (bool, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("invalid %s type", key)
	}
}

// durationValue accepts Go duration strings or a number of seconds
func durationValue(config map[string]interface{}, key string, def time.Duration) (time.Duration, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if dur, err := time.ParseDuration(v); err == nil {
			return dur, nil
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", key, v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("invalid %s type", key)
	}
}
