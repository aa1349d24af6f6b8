// internal/stream/usb.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// USBConfig represents USB bulk transfer stream configuration
type USBConfig struct {
	VendorID     string        `json:"vendor_id"`
	ProductID    string        `json:"product_id"`
	SerialNumber string        `json:"serial_number"`
	InEndpoint   int           `json:"in_endpoint"`
	OutEndpoint  int           `json:"out_endpoint"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// USB implements Stream over a device's bulk endpoints
type USB struct {
	statsRecorder
	config   *USBConfig
	ctx      *gousb.Context
	device   *gousb.Device
	release  func()
	outEndpt *gousb.OutEndpoint
	inEndpt  *gousb.InEndpoint
	logger   *zap.Logger
	mutex    sync.RWMutex
	writeMu  sync.Mutex
	isOpen   bool
}

// NewUSB creates a new USB stream
func NewUSB(config *USBConfig, logger *zap.Logger) *USB {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 512
	}
	return &USB{
		config: config,
		logger: logger.With(
			zap.String("stream", "usb"),
			zap.String("vendor_id", config.VendorID),
			zap.String("product_id", config.ProductID),
		),
	}
}

// Connect opens the device and claims its default interface
func (u *USB) Connect(ctx context.Context) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.isOpen {
		return nil
	}

	u.logger.Info("Opening USB connection",
		zap.Int("in_endpoint", u.config.InEndpoint),
		zap.Int("out_endpoint", u.config.OutEndpoint),
	)

	// Parse vendor and product IDs
	vendorID, err := ParseHexID(u.config.VendorID)
	if err != nil {
		return fmt.Errorf("invalid vendor ID: %w", err)
	}
	productID, err := ParseHexID(u.config.ProductID)
	if err != nil {
		return fmt.Errorf("invalid product ID: %w", err)
	}

	u.ctx = gousb.NewContext()

	device, err := u.findAndOpenDevice(vendorID, productID)
	if err != nil {
		u.closeLocked()
		return fmt.Errorf("failed to find USB device: %w", err)
	}
	u.device = device
	device.SetAutoDetach(true)

	intf, done, err := device.DefaultInterface()
	if err != nil {
		u.closeLocked()
		return fmt.Errorf("failed to claim interface: %w", err)
	}
	u.release = done

	if u.config.OutEndpoint > 0 {
		if u.outEndpt, err = intf.OutEndpoint(u.config.OutEndpoint); err != nil {
			u.closeLocked()
			return fmt.Errorf("failed to get out endpoint: %w", err)
		}
	}
	if u.config.InEndpoint > 0 {
		if u.inEndpt, err = intf.InEndpoint(u.config.InEndpoint); err != nil {
			u.closeLocked()
			return fmt.Errorf("failed to get in endpoint: %w", err)
		}
	}
	if u.outEndpt == nil && u.inEndpt == nil {
		u.closeLocked()
		return fmt.Errorf("%w: either an in or out endpoint must be given", ErrNotConnected)
	}

	u.isOpen = true
	u.setConnected(true)
	u.logger.Info("USB connection opened successfully")
	return nil
}

func (u *USB) closeLocked() {
	if u.release != nil {
		u.release()
		u.release = nil
	}
	if u.device != nil {
		u.device.Close()
		u.device = nil
	}
	if u.ctx != nil {
		u.ctx.Close()
		u.ctx = nil
	}
	u.outEndpt = nil
	u.inEndpt = nil
	u.isOpen = false
	u.setConnected(false)
}

// Disconnect releases the interface and closes the device
func (u *USB) Disconnect() error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.isOpen {
		return nil
	}
	u.closeLocked()
	u.logger.Info("USB connection closed successfully")
	return nil
}

// Connected returns whether the device is open
func (u *USB) Connected() bool {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.isOpen
}

// Read performs one bulk IN transfer
func (u *USB) Read(ctx context.Context) ([]byte, error) {
	u.mutex.RLock()
	endpt, open := u.inEndpt, u.isOpen
	u.mutex.RUnlock()

	if !open {
		return nil, ErrNotConnected
	}
	if endpt == nil {
		return nil, ErrWriteOnly
	}

	readCtx := ctx
	if u.config.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, u.config.ReadTimeout)
		defer cancel()
	}

	buffer := make([]byte, u.config.BufferSize)
	n, err := endpt.ReadContext(readCtx, buffer)
	if n > 0 {
		u.recordRead(n)
		return buffer[:n], nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(readCtx.Err(), context.DeadlineExceeded) || errors.Is(err, gousb.ErrorTimeout) {
			return nil, ErrReadTimeout
		}
		if errors.Is(err, gousb.ErrorNoDevice) {
			return nil, nil
		}
		u.recordError()
		return nil, fmt.Errorf("failed to read from USB device: %w", err)
	}
	return []byte{}, nil
}

// Write performs bulk OUT transfers until all data is written
func (u *USB) Write(ctx context.Context, data []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	u.mutex.RLock()
	endpt, open := u.outEndpt, u.isOpen
	u.mutex.RUnlock()

	if !open {
		return ErrNotConnected
	}
	if endpt == nil {
		return ErrReadOnly
	}

	writeCtx := ctx
	if u.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, u.config.WriteTimeout)
		defer cancel()
	}

	startTime := time.Now()
	n, err := endpt.WriteContext(writeCtx, data)
	if err != nil {
		u.recordError()
		if errors.Is(writeCtx.Err(), context.DeadlineExceeded) {
			return ErrWriteTimeout
		}
		u.logger.Error("USB write failed", zap.Error(err))
		return fmt.Errorf("failed to write to USB device: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	u.recordWrite(len(data), time.Since(startTime))
	return nil
}

// Type returns the stream type
func (u *USB) Type() string {
	return "usb"
}

// ParseHexID parses a hex ID string (0x1234 or 1234)
func ParseHexID(hexStr string) (gousb.ID, error) {
	hexStr = strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")

	id, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(id), nil
}

// findAndOpenDevice finds and opens the USB device
func (u *USB) findAndOpenDevice(vendorID, productID gousb.ID) (*gousb.Device, error) {
	devices, err := u.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productID
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var found *gousb.Device
	for _, device := range devices {
		if found != nil {
			device.Close()
			continue
		}
		if u.config.SerialNumber != "" {
			serial, err := device.SerialNumber()
			if err != nil || serial != u.config.SerialNumber {
				device.Close()
				continue
			}
		}
		found = device
	}

	if found == nil {
		return nil, fmt.Errorf("USB device not found (VID: %04X, PID: %04X)", uint16(vendorID), uint16(productID))
	}
	if len(devices) > 1 && u.config.SerialNumber == "" {
		u.logger.Warn("Multiple matching USB devices found, using first one")
	}
	return found, nil
}
