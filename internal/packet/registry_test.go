// internal/packet/registry_test.go
package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefinitions = `
[[telemetry]]
target = "INST"
name = "HEALTH"
description = "Health status"
  [[telemetry.item]]
  name = "APID"
  bit_offset = 0
  bit_size = 8
  data_type = "UINT"
  id_value = 1
  [[telemetry.item]]
  name = "TEMP"
  bit_offset = 8
  bit_size = 16
  data_type = "INT"
  read_conversion = [0.0, 0.5]

[[telemetry]]
target = "INST"
name = "ADCS"
  [[telemetry.item]]
  name = "APID"
  bit_offset = 0
  bit_size = 8
  data_type = "UINT"
  id_value = 2
  [[telemetry.item]]
  name = "MODE"
  bit_offset = 8
  bit_size = 8
  data_type = "UINT"
  default = 3

[[telemetry]]
target = "MIX"
name = "X"
  [[telemetry.item]]
  name = "OPCODE"
  bit_offset = 0
  bit_size = 8
  data_type = "UINT"
  id_value = 1

[[telemetry]]
target = "MIX"
name = "Y"
  [[telemetry.item]]
  name = "TYPE"
  bit_offset = 8
  bit_size = 8
  data_type = "UINT"
  id_value = 5

[[command]]
target = "INST"
name = "NOOP"
  [[command.item]]
  name = "OPCODE"
  bit_offset = 0
  bit_size = 16
  data_type = "UINT"
  endianness = "LITTLE_ENDIAN"
  id_value = "0x0102"
`

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, ParseDefinitions(r, testDefinitions))
	return r
}

func Test_RegistryParseDefinitions(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, []string{"INST", "MIX"}, r.Targets(Telemetry))
	assert.Equal(t, []string{"INST"}, r.Targets(Command))

	defs := r.Definitions(Telemetry, "inst")
	require.Len(t, defs, 2)
	assert.Equal(t, "ADCS", defs[0].PacketName)
	assert.Equal(t, "HEALTH", defs[1].PacketName)
	assert.Equal(t, "Health status", defs[1].Description)
}

func Test_RegistryPacketIsFresh(t *testing.T) {
	r := newTestRegistry(t)

	pkt, err := r.Packet(Telemetry, "INST", "ADCS")
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3}, pkt.Buffer())

	require.NoError(t, pkt.Write("MODE", 9, Raw))
	again, err := r.Packet(Telemetry, "INST", "ADCS")
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3}, again.Buffer())

	cmd, err := r.Packet(Command, "INST", "NOOP")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01}, cmd.Buffer())

	_, err = r.Packet(Telemetry, "INST", "NOPE")
	assert.ErrorIs(t, err, ErrUnknownPacket)
}

func Test_RegistryIdentifyFastPath(t *testing.T) {
	r := newTestRegistry(t)
	require.NotNil(t, r.layouts[Telemetry]["INST"])

	def := r.Identify(Telemetry, []byte{2, 0}, []string{"INST"})
	require.NotNil(t, def)
	assert.Equal(t, "ADCS", def.PacketName)

	def = r.Identify(Telemetry, []byte{1, 0, 0}, []string{"INST"})
	require.NotNil(t, def)
	assert.Equal(t, "HEALTH", def.PacketName)

	assert.Nil(t, r.Identify(Telemetry, []byte{9, 0}, []string{"INST"}))
}

func Test_RegistryIdentifySlowPath(t *testing.T) {
	r := newTestRegistry(t)
	assert.Nil(t, r.layouts[Telemetry]["MIX"])

	def := r.Identify(Telemetry, []byte{0, 5}, []string{"MIX"})
	require.NotNil(t, def)
	assert.Equal(t, "Y", def.PacketName)

	def = r.Identify(Telemetry, []byte{1, 0}, []string{"MIX"})
	require.NotNil(t, def)
	assert.Equal(t, "X", def.PacketName)

	// every target is searched when none are given
	def = r.Identify(Telemetry, []byte{0, 5}, nil)
	require.NotNil(t, def)
	assert.Equal(t, "MIX", def.TargetName)
}

func Test_RegistryMinIDSize(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, 1, r.MinIDSize(Telemetry, []string{"INST"}))
	assert.Equal(t, 2, r.MinIDSize(Telemetry, []string{"MIX"}))
	assert.Equal(t, 2, r.MinIDSize(Command, nil))
}

func Test_ParseDefinitionsRejectsUnknownKeys(t *testing.T) {
	r := NewRegistry()
	err := ParseDefinitions(r, `
[[telemetry]]
target = "INST"
name = "BAD"
bogus = 1
`)
	assert.Error(t, err)
}

func Test_ParseDefinitionsRejectsBadItems(t *testing.T) {
	r := NewRegistry()
	err := ParseDefinitions(r, `
[[telemetry]]
target = "INST"
name = "BAD"
  [[telemetry.item]]
  name = "X"
  bit_offset = 0
  bit_size = 8
  data_type = "WORD"
`)
	assert.Error(t, err)
}
