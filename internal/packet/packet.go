// internal/packet/packet.go
package packet

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownItem = errors.New("packet: unknown item")

// Packet is a named binary buffer plus the layout of the items inside it
type Packet struct {
	TargetName    string
	PacketName    string
	Description   string
	ReceivedTime  time.Time
	ReceivedCount uint64
	Stored        bool
	Extra         map[string]any

	buffer []byte
	items  []*Item
	index  map[string]*Item
}

// New creates a packet. The buffer is used as is, not copied.
func New(targetName, packetName string, buffer []byte) *Packet {
	return &Packet{
		TargetName: strings.ToUpper(targetName),
		PacketName: strings.ToUpper(packetName),
		buffer:     buffer,
		index:      make(map[string]*Item),
	}
}

// Buffer returns the packet buffer without copying
func (p *Packet) Buffer() []byte {
	return p.buffer
}

// BufferCopy returns a copy of the packet buffer
func (p *Packet) BufferCopy() []byte {
	out := make([]byte, len(p.buffer))
	copy(out, p.buffer)
	return out
}

// SetBuffer replaces the packet buffer
func (p *Packet) SetBuffer(buffer []byte) {
	p.buffer = buffer
}

// Identified reports whether the packet carries both a target and packet name
func (p *Packet) Identified() bool {
	return p.TargetName != "" && p.PacketName != ""
}

// AppendItem adds an item to the layout
func (p *Packet) AppendItem(item *Item) error {
	item.Name = strings.ToUpper(item.Name)
	if err := item.validate(); err != nil {
		return err
	}
	if _, exists := p.index[item.Name]; exists {
		return fmt.Errorf("item %s already defined in %s %s", item.Name, p.TargetName, p.PacketName)
	}
	p.items = append(p.items, item)
	p.index[item.Name] = item
	return nil
}

// Items returns the item layout in definition order
func (p *Packet) Items() []*Item {
	return p.items
}

// Item looks up an item by name
func (p *Packet) Item(name string) (*Item, error) {
	item, ok := p.index[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s %s", ErrUnknownItem, name, p.TargetName, p.PacketName)
	}
	return item, nil
}

// IDItems returns the items used for identification
func (p *Packet) IDItems() []*Item {
	var ids []*Item
	for _, item := range p.items {
		if item.IsID() {
			ids = append(ids, item)
		}
	}
	return ids
}

// DefinedLength is the number of bytes needed to hold every fixed item
func (p *Packet) DefinedLength() int {
	length := 0
	for _, item := range p.items {
		if end := item.endByte(); end > length {
			length = end
		}
	}
	return length
}

// Read reads an item value
func (p *Packet) Read(name string, valueType ValueType) (any, error) {
	item, err := p.Item(name)
	if err != nil {
		return nil, err
	}
	return p.ReadItem(item, valueType)
}

// ReadItem reads an item value, applying the read conversion for CONVERTED
func (p *Packet) ReadItem(item *Item, valueType ValueType) (any, error) {
	value, err := readRaw(p.buffer, item)
	if err != nil {
		return nil, fmt.Errorf("reading %s %s %s: %w", p.TargetName, p.PacketName, item.Name, err)
	}
	if valueType == Converted && item.ReadConversion != nil {
		return item.ReadConversion.Convert(value)
	}
	return value, nil
}

// Write writes an item value
func (p *Packet) Write(name string, value any, valueType ValueType) error {
	item, err := p.Item(name)
	if err != nil {
		return err
	}
	return p.WriteItem(item, value, valueType)
}

// WriteItem writes an item value, applying the write conversion for CONVERTED
func (p *Packet) WriteItem(item *Item, value any, valueType ValueType) error {
	if valueType == Converted && item.WriteConversion != nil {
		converted, err := item.WriteConversion.Convert(value)
		if err != nil {
			return fmt.Errorf("converting %s: %w", item.Name, err)
		}
		value = converted
	}
	buffer, err := writeRaw(p.buffer, item, value)
	if err != nil {
		return fmt.Errorf("writing %s %s %s: %w", p.TargetName, p.PacketName, item.Name, err)
	}
	p.buffer = buffer
	return nil
}

// Identify reports whether buf carries every id value of this packet
func (p *Packet) Identify(buf []byte) bool {
	for _, item := range p.items {
		if !item.IsID() {
			continue
		}
		value, err := readRaw(buf, item)
		if err != nil || !valuesEqual(value, item.IDValue) {
			return false
		}
	}
	return true
}

// Restore sizes the buffer to the defined length and writes defaults and id values
func (p *Packet) Restore() error {
	p.buffer = make([]byte, p.DefinedLength())
	for _, item := range p.items {
		value := item.Default
		if item.IsID() {
			value = item.IDValue
		}
		if value == nil {
			continue
		}
		if err := p.WriteItem(item, value, Raw); err != nil {
			return err
		}
	}
	return nil
}

// Clone copies the packet. The item layout is shared since it is immutable once defined.
func (p *Packet) Clone() *Packet {
	clone := *p
	clone.buffer = p.BufferCopy()
	if p.Extra != nil {
		clone.Extra = make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			clone.Extra[k] = v
		}
	}
	return &clone
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s %s (%d bytes)", p.TargetName, p.PacketName, len(p.buffer))
}
