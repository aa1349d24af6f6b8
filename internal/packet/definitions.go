// internal/packet/definitions.go
package packet

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// definitionFile is the TOML layout of a packet definition file:
//
//	[[telemetry]]
//	target = "INST"
//	name = "HEALTH_STATUS"
//	[[telemetry.item]]
//	name = "CCSDSAPID"
//	bit_offset = 5
//	bit_size = 11
//	data_type = "UINT"
//	id_value = 1
type definitionFile struct {
	Telemetry []packetDef `toml:"telemetry"`
	Command   []packetDef `toml:"command"`
}

type packetDef struct {
	Target      string    `toml:"target"`
	Name        string    `toml:"name"`
	Description string    `toml:"description"`
	Items       []itemDef `toml:"item"`
}

type itemDef struct {
	Name            string    `toml:"name"`
	BitOffset       int       `toml:"bit_offset"`
	BitSize         int       `toml:"bit_size"`
	DataType        string    `toml:"data_type"`
	Endianness      string    `toml:"endianness"`
	IDValue         any       `toml:"id_value"`
	Default         any       `toml:"default"`
	ReadConversion  []float64 `toml:"read_conversion"`
	WriteConversion []float64 `toml:"write_conversion"`
	Description     string    `toml:"description"`
}

// LoadDefinitions decodes definition files into the registry
func LoadDefinitions(r *Registry, paths ...string) error {
	for _, path := range paths {
		var file definitionFile
		meta, err := toml.DecodeFile(path, &file)
		if err != nil {
			return fmt.Errorf("load definitions %s: %w", path, err)
		}
		if err := checkUndecoded(meta); err != nil {
			return fmt.Errorf("load definitions %s: %w", path, err)
		}
		if err := file.register(r); err != nil {
			return fmt.Errorf("load definitions %s: %w", path, err)
		}
	}
	return nil
}

// ParseDefinitions decodes definitions from TOML text into the registry
func ParseDefinitions(r *Registry, data string) error {
	var file definitionFile
	meta, err := toml.Decode(data, &file)
	if err != nil {
		return fmt.Errorf("parse definitions: %w", err)
	}
	if err := checkUndecoded(meta); err != nil {
		return fmt.Errorf("parse definitions: %w", err)
	}
	return file.register(r)
}

func checkUndecoded(meta toml.MetaData) error {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func (f *definitionFile) register(r *Registry) error {
	for _, def := range f.Telemetry {
		if err := def.register(r, Telemetry); err != nil {
			return err
		}
	}
	for _, def := range f.Command {
		if err := def.register(r, Command); err != nil {
			return err
		}
	}
	return nil
}

func (d packetDef) register(r *Registry, kind Kind) error {
	pkt := New(d.Target, d.Name, nil)
	pkt.Description = d.Description
	for _, def := range d.Items {
		item, err := def.build()
		if err != nil {
			return fmt.Errorf("%s %s: %w", pkt.TargetName, pkt.PacketName, err)
		}
		if err := pkt.AppendItem(item); err != nil {
			return err
		}
	}
	return r.Add(kind, pkt)
}

func (d itemDef) build() (*Item, error) {
	dataType, err := ParseDataType(d.DataType)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", d.Name, err)
	}
	endianness, err := ParseEndianness(d.Endianness)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", d.Name, err)
	}

	item := &Item{
		Name:        d.Name,
		BitOffset:   d.BitOffset,
		BitSize:     d.BitSize,
		DataType:    dataType,
		Endianness:  endianness,
		IDValue:     d.IDValue,
		Default:     d.Default,
		Description: d.Description,
	}
	if len(d.ReadConversion) > 0 {
		item.ReadConversion = Polynomial{Coefficients: d.ReadConversion}
	}
	if len(d.WriteConversion) > 0 {
		item.WriteConversion = Polynomial{Coefficients: d.WriteConversion}
	}
	return item, nil
}
