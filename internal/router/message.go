// internal/router/message.go
package router

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"groundlink/internal/packet"
)

var ErrInvalidCommand = errors.New("router: invalid command request")

// PacketMessage is the published form of a packet read from an interface
type PacketMessage struct {
	Interface  string         `json:"interface"`
	Target     string         `json:"target,omitempty"`
	Packet     string         `json:"packet,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
	Buffer     string         `json:"buffer"`
	Items      map[string]any `json:"items,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// NewPacketMessage converts pkt. Items that fail to read are left out.
func NewPacketMessage(link string, pkt *packet.Packet) PacketMessage {
	msg := PacketMessage{
		Interface:  link,
		Target:     pkt.TargetName,
		Packet:     pkt.PacketName,
		ReceivedAt: pkt.ReceivedTime,
		Buffer:     strings.ToUpper(hex.EncodeToString(pkt.Buffer())),
		Extra:      pkt.Extra,
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	items := pkt.Items()
	if len(items) == 0 {
		return msg
	}
	msg.Items = make(map[string]any, len(items))
	for _, item := range items {
		value, err := pkt.Read(item.Name, packet.Converted)
		if err != nil {
			continue
		}
		if b, ok := value.([]byte); ok {
			value = strings.ToUpper(hex.EncodeToString(b))
		}
		msg.Items[item.Name] = value
	}
	return msg
}

// CommandRequest asks for a command to be built from its definition and sent
// to the interface mapping its target
type CommandRequest struct {
	Target    string         `json:"target"`
	Packet    string         `json:"packet"`
	Items     map[string]any `json:"items"`
	ValueType string         `json:"type"`
}

// CommandResponse answers a CommandRequest
type CommandResponse struct {
	OK     bool   `json:"ok"`
	Target string `json:"target,omitempty"`
	Packet string `json:"packet,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BuildCommand creates the command packet described by req. Item values are
// converted values unless the type is RAW.
func BuildCommand(registry *packet.Registry, req CommandRequest) (*packet.Packet, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: no packet definitions loaded", ErrInvalidCommand)
	}
	if req.Target == "" || req.Packet == "" {
		return nil, fmt.Errorf("%w: target and packet are required", ErrInvalidCommand)
	}

	valueType := packet.Converted
	if req.ValueType != "" {
		parsed, err := packet.ParseValueType(req.ValueType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		valueType = parsed
	}

	cmd, err := registry.Packet(packet.Command, req.Target, req.Packet)
	if err != nil {
		return nil, err
	}
	for name, value := range req.Items {
		if err := cmd.Write(strings.ToUpper(name), value, valueType); err != nil {
			return nil, fmt.Errorf("%s %s item %s: %w", cmd.TargetName, cmd.PacketName, name, err)
		}
	}
	return cmd, nil
}
