// internal/packet/registry.go
package packet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownPacket = errors.New("packet: unknown packet")

// Kind separates telemetry definitions from command definitions
type Kind string

const (
	Telemetry Kind = "TELEMETRY"
	Command   Kind = "COMMAND"
)

// idLayout is the shared identification layout of a target. When every packet of
// a target identifies with the same items, identification is a single map lookup.
type idLayout struct {
	items []*Item
	byKey map[string]*Packet
}

// Registry holds packet definitions per kind and target
type Registry struct {
	mu      sync.RWMutex
	defs    map[Kind]map[string]map[string]*Packet
	layouts map[Kind]map[string]*idLayout
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		defs: map[Kind]map[string]map[string]*Packet{
			Telemetry: {},
			Command:   {},
		},
		layouts: map[Kind]map[string]*idLayout{
			Telemetry: {},
			Command:   {},
		},
	}
}

// Add registers a packet definition. A later definition with the same target and
// name replaces the earlier one.
func (r *Registry) Add(kind Kind, def *Packet) error {
	if !def.Identified() {
		return fmt.Errorf("packet definition requires a target and packet name")
	}
	targets, ok := r.defs[kind]
	if !ok {
		return fmt.Errorf("unknown packet kind '%s'", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	packets, ok := targets[def.TargetName]
	if !ok {
		packets = make(map[string]*Packet)
		targets[def.TargetName] = packets
	}
	packets[def.PacketName] = def
	r.layouts[kind][def.TargetName] = buildLayout(packets)
	return nil
}

// buildLayout returns the shared id layout of the packets or nil when the packets
// identify with different items.
func buildLayout(packets map[string]*Packet) *idLayout {
	var layout *idLayout
	for _, def := range packets {
		ids := def.IDItems()
		if len(ids) == 0 {
			return nil
		}
		if layout == nil {
			layout = &idLayout{items: ids, byKey: make(map[string]*Packet)}
		} else if !sameLayout(layout.items, ids) {
			return nil
		}
		values := make([]any, len(ids))
		for i, item := range ids {
			values[i] = item.IDValue
		}
		key := idKey(values)
		if _, dup := layout.byKey[key]; dup {
			return nil
		}
		layout.byKey[key] = def
	}
	return layout
}

func sameLayout(a, b []*Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].BitOffset != b[i].BitOffset || a[i].BitSize != b[i].BitSize ||
			a[i].DataType != b[i].DataType || a[i].Endianness != b[i].Endianness {
			return false
		}
	}
	return true
}

func idKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			parts[i] = fmt.Sprintf("%X", b)
		} else {
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return strings.Join(parts, "\x00")
}

// Definition returns the registered definition without copying it
func (r *Registry) Definition(kind Kind, target, name string) (*Packet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[kind][strings.ToUpper(target)][strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s %s", ErrUnknownPacket, kind, target, name)
	}
	return def, nil
}

// Packet returns a fresh packet built from a definition with defaults and id
// values written into its buffer
func (r *Registry) Packet(kind Kind, target, name string) (*Packet, error) {
	def, err := r.Definition(kind, target, name)
	if err != nil {
		return nil, err
	}
	pkt := def.Clone()
	if err := pkt.Restore(); err != nil {
		return nil, err
	}
	return pkt, nil
}

// Targets returns the sorted target names defined for a kind
func (r *Registry) Targets(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]string, 0, len(r.defs[kind]))
	for name := range r.defs[kind] {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets
}

// Definitions returns the definitions of a target sorted by packet name
func (r *Registry) Definitions(kind Kind, target string) []*Packet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedPackets(r.defs[kind][strings.ToUpper(target)])
}

func sortedPackets(packets map[string]*Packet) []*Packet {
	out := make([]*Packet, 0, len(packets))
	for _, def := range packets {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PacketName < out[j].PacketName })
	return out
}

// Identify finds the definition whose id items match buf. Only the given targets
// are searched, or every target when none are given. Packets without id items
// never match. Returns nil when nothing matches.
func (r *Registry) Identify(kind Kind, buf []byte, targets []string) *Packet {
	if len(targets) == 0 {
		targets = r.Targets(kind)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, target := range targets {
		target = strings.ToUpper(target)
		if layout := r.layouts[kind][target]; layout != nil {
			values := make([]any, len(layout.items))
			ok := true
			for i, item := range layout.items {
				v, err := readRaw(buf, item)
				if err != nil {
					ok = false
					break
				}
				values[i] = v
			}
			if !ok {
				continue
			}
			if def, found := layout.byKey[idKey(values)]; found {
				return def
			}
			continue
		}

		for _, def := range sortedPackets(r.defs[kind][target]) {
			if len(def.IDItems()) > 0 && def.Identify(buf) {
				return def
			}
		}
	}
	return nil
}

// MinIDSize is the number of bytes needed to evaluate every id item of the
// given targets
func (r *Registry) MinIDSize(kind Kind, targets []string) int {
	if len(targets) == 0 {
		targets = r.Targets(kind)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	size := 0
	for _, target := range targets {
		for _, def := range r.defs[kind][strings.ToUpper(target)] {
			for _, item := range def.IDItems() {
				if end := item.endByte(); end > size {
					size = end
				}
			}
		}
	}
	return size
}
