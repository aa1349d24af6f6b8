// internal/packet/overrides.go
package packet

import (
	"fmt"
	"strings"
	"sync"
)

// Override is a forced item value
type Override struct {
	Value any       `json:"value"`
	Type  ValueType `json:"type"`
}

// OverrideTable holds forced telemetry values keyed target -> packet -> item.
// Values persist until cleared.
type OverrideTable struct {
	mu    sync.RWMutex
	table map[string]map[string]map[string]Override
}

// NewOverrideTable creates an empty table
func NewOverrideTable() *OverrideTable {
	return &OverrideTable{
		table: make(map[string]map[string]map[string]Override),
	}
}

// Set forces an item value
func (t *OverrideTable) Set(target, packet, item string, value any, valueType ValueType) {
	target, packet, item = strings.ToUpper(target), strings.ToUpper(packet), strings.ToUpper(item)

	t.mu.Lock()
	defer t.mu.Unlock()

	packets, ok := t.table[target]
	if !ok {
		packets = make(map[string]map[string]Override)
		t.table[target] = packets
	}
	items, ok := packets[packet]
	if !ok {
		items = make(map[string]Override)
		packets[packet] = items
	}
	items[item] = Override{Value: value, Type: valueType}
}

// Clear removes the override of one item
func (t *OverrideTable) Clear(target, packet, item string) {
	target, packet, item = strings.ToUpper(target), strings.ToUpper(packet), strings.ToUpper(item)

	t.mu.Lock()
	defer t.mu.Unlock()

	if items, ok := t.table[target][packet]; ok {
		delete(items, item)
		if len(items) == 0 {
			delete(t.table[target], packet)
		}
	}
}

// ClearAll removes every override
func (t *OverrideTable) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table = make(map[string]map[string]map[string]Override)
}

// Lookup returns a copy of the overrides for one packet
func (t *OverrideTable) Lookup(target, packet string) map[string]Override {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := t.table[strings.ToUpper(target)][strings.ToUpper(packet)]
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]Override, len(items))
	for k, v := range items {
		out[k] = v
	}
	return out
}

// Apply writes every override for the packet's target and packet name into it
func (t *OverrideTable) Apply(p *Packet) error {
	for name, override := range t.Lookup(p.TargetName, p.PacketName) {
		if err := p.Write(name, override.Value, override.Type); err != nil {
			return fmt.Errorf("override %s: %w", name, err)
		}
	}
	return nil
}

// Snapshot returns a deep copy of the table
func (t *OverrideTable) Snapshot() map[string]map[string]map[string]Override {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]map[string]map[string]Override, len(t.table))
	for target, packets := range t.table {
		out[target] = make(map[string]map[string]Override, len(packets))
		for packet, items := range packets {
			out[target][packet] = make(map[string]Override, len(items))
			for item, override := range items {
				out[target][packet][item] = override
			}
		}
	}
	return out
}

// Clone returns an independent copy of the table
func (t *OverrideTable) Clone() *OverrideTable {
	return &OverrideTable{table: t.Snapshot()}
}
