// internal/protocol/override.go
package protocol

import (
	"go.uber.org/zap"

	"groundlink/internal/packet"
)

// Override forces the owning interface's telemetry overrides into every
// matching packet it reads. Packets not yet identified by an earlier stage are
// identified against the interface targets.
type Override struct {
	Base
	registry *packet.Registry
}

// NewOverride creates an override protocol. Without a registry only packets
// identified by an earlier stage can be overridden.
func NewOverride(registry *packet.Registry, allowEmptyData *bool, logger *zap.Logger) *Override {
	return &Override{
		Base:     newBase(allowEmptyData, logger),
		registry: registry,
	}
}

func (o *Override) ReadPacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	if o.owner == nil {
		return Continue(pkt), nil
	}
	table := o.owner.Overrides()
	if table == nil {
		return Continue(pkt), nil
	}

	if !pkt.Identified() {
		if o.registry == nil {
			return Continue(pkt), nil
		}
		def := o.registry.Identify(packet.Telemetry, pkt.Buffer(), o.targetNames())
		if def == nil {
			return Continue(pkt), nil
		}
		pkt.TargetName = def.TargetName
		pkt.PacketName = def.PacketName
		pkt = define(o.registry, packet.Telemetry, pkt)
	}
	if len(table.Lookup(pkt.TargetName, pkt.PacketName)) == 0 {
		return Continue(pkt), nil
	}

	pkt = define(o.registry, packet.Telemetry, pkt)
	if err := table.Apply(pkt); err != nil {
		return Result[*packet.Packet]{}, err
	}
	return Continue(pkt), nil
}
