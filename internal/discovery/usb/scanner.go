// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"groundlink/internal/discovery"
	"groundlink/internal/stream"
)

// Config for the USB scanner
type Config struct {
	// Classes limits the scan to these device classes. Empty keeps every device.
	Classes     []gousb.Class `json:"classes"`
	EnableDebug bool          `json:"enable_debug"`
}

// Scanner lists attached USB devices from their descriptors. Devices are
// never opened, so a device already claimed by a link is still listed.
type Scanner struct {
	logger *zap.Logger
	config Config
}

// NewScanner creates a USB scanner
func NewScanner(logger *zap.Logger, config Config) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		logger: logger.With(zap.String("scanner", stream.KindUSB)),
		config: config,
	}
}

// Kind returns the stream kind of the discovered ports
func (s *Scanner) Kind() string {
	return stream.KindUSB
}

// IsAvailable checks whether the host exposes USB devices to libusb
func (s *Scanner) IsAvailable() bool {
	switch runtime.GOOS {
	case "linux":
		_, err := os.Stat("/dev/bus/usb")
		return err == nil
	case "darwin", "windows":
		return true
	default:
		return false
	}
}

// Scan enumerates the device descriptors
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.Port, error) {
	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()
	if s.config.EnableDebug {
		usbCtx.Debug(3)
	}

	var ports []*discovery.Port
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() == nil && s.wants(desc) {
			ports = append(ports, PortFromDesc(desc))
		}
		return false
	})
	if err != nil {
		return ports, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return ports, err
	}

	s.logger.Debug("USB devices listed", zap.Int("matched", len(ports)))
	return ports, nil
}

func (s *Scanner) wants(desc *gousb.DeviceDesc) bool {
	if len(s.config.Classes) == 0 {
		return true
	}
	for _, class := range s.config.Classes {
		if desc.Class == class {
			return true
		}
	}
	return false
}

// PortFromDesc describes a device and suggests the stream configuration of its
// first bulk endpoint pair
func PortFromDesc(desc *gousb.DeviceDesc) *discovery.Port {
	vendorID := fmt.Sprintf("0x%04X", uint16(desc.Vendor))
	productID := fmt.Sprintf("0x%04X", uint16(desc.Product))

	config := map[string]interface{}{
		"vendor_id":  vendorID,
		"product_id": productID,
	}
	in, out := bulkEndpoints(desc)
	if in > 0 {
		config["in_endpoint"] = in
	}
	if out > 0 {
		config["out_endpoint"] = out
	}

	return &discovery.Port{
		Kind:        stream.KindUSB,
		Name:        fmt.Sprintf("bus %d address %d", desc.Bus, desc.Address),
		Description: desc.Class.String(),
		VendorID:    vendorID,
		ProductID:   productID,
		Stream:      config,
	}
}

// bulkEndpoints returns the lowest numbered bulk in and out endpoints of the
// first configuration, 0 when there is none
func bulkEndpoints(desc *gousb.DeviceDesc) (in, out int) {
	configs := make([]int, 0, len(desc.Configs))
	for number := range desc.Configs {
		configs = append(configs, number)
	}
	if len(configs) == 0 {
		return 0, 0
	}
	sort.Ints(configs)

	for _, intf := range desc.Configs[configs[0]].Interfaces {
		for _, alt := range intf.AltSettings {
			for _, ep := range alt.Endpoints {
				if ep.TransferType != gousb.TransferTypeBulk {
					continue
				}
				if ep.Direction == gousb.EndpointDirectionIn {
					if in == 0 || ep.Number < in {
						in = ep.Number
					}
				} else if out == 0 || ep.Number < out {
					out = ep.Number
				}
			}
		}
	}
	return in, out
}
