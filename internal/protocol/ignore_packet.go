// internal/protocol/ignore_packet.go
package protocol

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

// IgnorePacket drops one packet type on read and write
type IgnorePacket struct {
	Base
	targetName string
	packetName string
	registry   *packet.Registry
}

// NewIgnorePacket creates an ignore packet protocol. The packet must be defined
// as telemetry in the registry.
func NewIgnorePacket(targetName, packetName string, registry *packet.Registry, allowEmptyData *bool, logger *zap.Logger) (*IgnorePacket, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: ignore packet protocol requires a packet registry", ErrInvalidConfig)
	}
	if _, err := registry.Definition(packet.Telemetry, targetName, packetName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &IgnorePacket{
		Base:       newBase(allowEmptyData, logger),
		targetName: strings.ToUpper(targetName),
		packetName: strings.ToUpper(packetName),
		registry:   registry,
	}, nil
}

func (i *IgnorePacket) matches(target, name string) bool {
	return target == i.targetName && name == i.packetName
}

func (i *IgnorePacket) ReadPacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	target, name := pkt.TargetName, pkt.PacketName
	if !pkt.Identified() {
		def := i.registry.Identify(packet.Telemetry, pkt.Buffer(), i.targetNames())
		if def == nil {
			return Continue(pkt), nil
		}
		target, name = def.TargetName, def.PacketName
	}
	if i.matches(target, name) {
		return Stop[*packet.Packet](), nil
	}
	return Continue(pkt), nil
}

func (i *IgnorePacket) WritePacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	if i.matches(pkt.TargetName, pkt.PacketName) {
		return Stop[*packet.Packet](), nil
	}
	return Continue(pkt), nil
}
