// internal/protocol/helpers_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"groundlink/internal/packet"
)

const testDefinitions = `
[[telemetry]]
target = "INST"
name = "HEALTH"
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

[[telemetry]]
target = "SCOPE"
name = "VOLTAGE"
  [[telemetry.item]]
  name = "CHANNEL"
  bit_offset = 0
  bit_size = 8
  data_type = "UINT"
  [[telemetry.item]]
  name = "VOLTS"
  bit_offset = 8
  bit_size = 16
  data_type = "UINT"

[[command]]
target = "INST"
name = "SET_MODE"
  [[command.item]]
  name = "OPCODE"
  bit_offset = 0
  bit_size = 8
  data_type = "UINT"
  id_value = 7
  [[command.item]]
  name = "MODE"
  bit_offset = 8
  bit_size = 8
  data_type = "UINT"
  [[command.item]]
  name = "CRC"
  bit_offset = 16
  bit_size = 16
  data_type = "UINT"

[[command]]
target = "SCOPE"
name = "SET_VOLTS"
  [[command.item]]
  name = "CHANNEL"
  bit_offset = 0
  bit_size = 8
  data_type = "UINT"
  [[command.item]]
  name = "VOLTS"
  bit_offset = 8
  bit_size = 16
  data_type = "UINT"
  [[command.item]]
  name = "CMD_TEMPLATE"
  bit_offset = 24
  bit_size = 512
  data_type = "STRING"
  default = "SOUR:VOLT <VOLTS>, (@<CHANNEL>)"
  [[command.item]]
  name = "RSP_TEMPLATE"
  bit_offset = 536
  bit_size = 256
  data_type = "STRING"
  default = "VOLTS=<VOLTS>"
  [[command.item]]
  name = "RSP_PACKET"
  bit_offset = 792
  bit_size = 128
  data_type = "STRING"
  default = "VOLTAGE"

[[command]]
target = "SCOPE"
name = "RESET"
  [[command.item]]
  name = "CMD_TEMPLATE"
  bit_offset = 0
  bit_size = 64
  data_type = "STRING"
  default = "*RST"
`

type testOwner struct {
	name      string
	targets   []string
	overrides *packet.OverrideTable
}

func (o *testOwner) Name() string                     { return o.name }
func (o *testOwner) TargetNames() []string            { return o.targets }
func (o *testOwner) Overrides() *packet.OverrideTable { return o.overrides }

func newTestOwner(targets ...string) *testOwner {
	return &testOwner{name: "TEST_INT", targets: targets, overrides: packet.NewOverrideTable()}
}

func newTestRegistry(t *testing.T) *packet.Registry {
	t.Helper()
	r := packet.NewRegistry()
	require.NoError(t, packet.ParseDefinitions(r, testDefinitions))
	return r
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

// readAll feeds each chunk through ReadData, then drains buffered frames with
// empty reads, and returns every frame produced. The protocol must be bound as
// the last read stage so an empty buffer stops.
func readAll(t *testing.T, p Protocol, chunks ...[]byte) [][]byte {
	t.Helper()
	var frames [][]byte
	for _, chunk := range chunks {
		res, err := p.ReadData(chunk)
		require.NoError(t, err)
		if res.Continued() {
			frames = append(frames, res.Value)
		}
		for res.Continued() {
			res, err = p.ReadData(nil)
			require.NoError(t, err)
			if res.Continued() {
				frames = append(frames, res.Value)
			}
		}
	}
	return frames
}
