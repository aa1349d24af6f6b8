// internal/router/router_test.go
package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/internal/iface"
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

[[command]]
target = "INST"
name = "SET_MODE"
  [[command.item]]
  name = "OPCODE"
  bit_offset = 0
  bit_size = 8
  data_type = "UINT"
  default = 7
  [[command.item]]
  name = "MODE"
  bit_offset = 8
  bit_size = 8
  data_type = "UINT"
`

type fakeCommander struct {
	sent []*packet.Packet
	err  error
}

func (f *fakeCommander) WriteTarget(_ context.Context, pkt *packet.Packet) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, pkt)
	return nil
}

func newRegistry(t *testing.T) *packet.Registry {
	t.Helper()
	r := packet.NewRegistry()
	require.NoError(t, packet.ParseDefinitions(r, testDefinitions))
	return r
}

func Test_NewPacketMessage(t *testing.T) {
	r := newRegistry(t)
	pkt, err := r.Packet(packet.Telemetry, "INST", "HEALTH")
	require.NoError(t, err)
	pkt.SetBuffer([]byte{0x01, 0xFF, 0xFE})
	pkt.ReceivedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pkt.Extra = map[string]any{"source": "test"}

	msg := NewPacketMessage("INST_INT", pkt)
	assert.Equal(t, "INST_INT", msg.Interface)
	assert.Equal(t, "INST", msg.Target)
	assert.Equal(t, "HEALTH", msg.Packet)
	assert.Equal(t, "01FFFE", msg.Buffer)
	assert.Equal(t, pkt.ReceivedTime, msg.ReceivedAt)
	assert.EqualValues(t, 1, msg.Items["APID"])
	assert.EqualValues(t, -2, msg.Items["TEMP"])
	assert.Equal(t, "test", msg.Extra["source"])
}

func Test_NewPacketMessageUnidentified(t *testing.T) {
	msg := NewPacketMessage("INST_INT", packet.New("", "", []byte{0xAB}))
	assert.Empty(t, msg.Target)
	assert.Equal(t, "AB", msg.Buffer)
	assert.Nil(t, msg.Items)
	assert.False(t, msg.ReceivedAt.IsZero())
}

func Test_BuildCommand(t *testing.T) {
	r := newRegistry(t)

	cmd, err := BuildCommand(r, CommandRequest{Target: "inst", Packet: "set_mode", Items: map[string]any{"mode": 3.0}})
	require.NoError(t, err)
	assert.Equal(t, "INST", cmd.TargetName)
	assert.Equal(t, "SET_MODE", cmd.PacketName)
	assert.Equal(t, []byte{7, 3}, cmd.Buffer())

	_, err = BuildCommand(r, CommandRequest{Target: "INST"})
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = BuildCommand(r, CommandRequest{Target: "INST", Packet: "SET_MODE", ValueType: "FORMATTED"})
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = BuildCommand(r, CommandRequest{Target: "INST", Packet: "REBOOT"})
	assert.ErrorIs(t, err, packet.ErrUnknownPacket)

	_, err = BuildCommand(r, CommandRequest{Target: "INST", Packet: "SET_MODE", Items: map[string]any{"SPEED": 1}})
	assert.Error(t, err)

	_, err = BuildCommand(nil, CommandRequest{Target: "INST", Packet: "SET_MODE"})
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func Test_Subjects(t *testing.T) {
	router := NewNATSRouter(nil, "gs", nil, nil, nil)
	assert.Equal(t, "gs.cmd.>", router.CommandSubject())
	assert.Equal(t, "gs.tlm.INST.HEALTH", router.TelemetrySubject("INST_INT", packet.New("inst", "health", nil)))
	assert.Equal(t, "gs.raw.INST_INT", router.TelemetrySubject("INST_INT", packet.New("", "", nil)))
	assert.Equal(t, "gs.raw.A_B", router.TelemetrySubject("A.B", packet.New("", "", nil)))

	assert.Equal(t, "groundlink.cmd.>", NewNATSRouter(nil, "", nil, nil, nil).CommandSubject())
}

func Test_ProcessCommand(t *testing.T) {
	commander := &fakeCommander{}
	router := NewNATSRouter(nil, "gs", newRegistry(t), commander, nil)
	ctx := context.Background()

	resp := router.processCommand(ctx, "gs.cmd.INST.SET_MODE", []byte(`{"items":{"MODE":2}}`))
	assert.True(t, resp.OK)
	assert.Equal(t, "INST", resp.Target)
	assert.Equal(t, "SET_MODE", resp.Packet)
	require.Len(t, commander.sent, 1)
	assert.Equal(t, []byte{7, 2}, commander.sent[0].Buffer())

	resp = router.processCommand(ctx, "gs.cmd.request", []byte(`{"target":"INST","packet":"SET_MODE","items":{"MODE":5}}`))
	assert.True(t, resp.OK)
	require.Len(t, commander.sent, 2)
	assert.Equal(t, []byte{7, 5}, commander.sent[1].Buffer())

	resp = router.processCommand(ctx, "gs.cmd.INST.SET_MODE", []byte(`{not json`))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "invalid command request")

	commander.err = errors.New("no interface maps target INST")
	resp = router.processCommand(ctx, "gs.cmd.inst.set_mode", nil)
	assert.False(t, resp.OK)
	assert.Equal(t, "INST", resp.Target)
	assert.Equal(t, "SET_MODE", resp.Packet)
	assert.Equal(t, "no interface maps target INST", resp.Error)

	stats := router.Stats()
	assert.EqualValues(t, 4, stats["commands"])
	assert.EqualValues(t, 2, stats["command_failures"])
	assert.EqualValues(t, 0, stats["published"])
}

func Test_StatusFields(t *testing.T) {
	store := NewStatusStore(nil, "gs", time.Minute, nil)
	assert.Equal(t, "gs:interface:INST_INT", store.Key("INST_INT"))

	status := iface.Status{
		Name:    "INST_INT",
		State:   iface.StateConnected,
		Clients: 2,
		TxSize:  3,
		RxSize:  4,
		TxBytes: 100,
		RxBytes: 200,
		TxCount: 5,
		RxCount: 6,
	}
	fields := statusFields(status)
	assert.Contains(t, fields, "updated_at")

	stored := make(map[string]string, len(fields))
	for key, value := range fields {
		stored[key] = fmt.Sprint(value)
	}
	parsed, err := parseStatus(stored)
	require.NoError(t, err)
	assert.Equal(t, status, parsed)

	stored["rxcnt"] = "many"
	_, err = parseStatus(stored)
	assert.ErrorContains(t, err, "invalid rxcnt")
}
