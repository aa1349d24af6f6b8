// internal/iface/runner_test.go
package iface

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/internal/packet"
	"groundlink/internal/protocol"
	"groundlink/internal/stream"
)

type packetSink struct {
	mutex   sync.Mutex
	packets []*packet.Packet
	links   []string
}

func (s *packetSink) handle(link string, pkt *packet.Packet) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.links = append(s.links, link)
	s.packets = append(s.packets, pkt)
}

func (s *packetSink) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.packets)
}

func (s *packetSink) buffers() [][]byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([][]byte, len(s.packets))
	for n, pkt := range s.packets {
		out[n] = pkt.Buffer()
	}
	return out
}

func newRunnerInterface(name string, mutate func(*Config)) (*Interface, *stream.Memory) {
	config := DefaultConfig(name)
	config.ReconnectDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(&config)
	}
	m := stream.NewMemory(false)
	return New(config, m, protocol.Env{}, nil), m
}

func Test_RunnerDispatchesAndReconnects(t *testing.T) {
	i, m := newRunnerInterface("inst_int", func(c *Config) { c.ReconnectDelay = 50 * time.Millisecond })
	sink := &packetSink{}
	r := NewRunner(i, nil)
	r.OnPacket(sink.handle)
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, i.Connected, time.Second, 5*time.Millisecond)
	m.Feed([]byte{0x01})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	m.CloseRemote()
	require.Eventually(t, func() bool { return !i.Connected() }, time.Second, time.Millisecond)
	require.Eventually(t, i.Connected, time.Second, 5*time.Millisecond)

	m.Feed([]byte{0x02})
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{{0x01}, {0x02}}, sink.buffers())
	sink.mutex.Lock()
	assert.Equal(t, []string{"INST_INT", "INST_INT"}, sink.links)
	sink.mutex.Unlock()
}

func Test_RunnerWaitsForConnectRequest(t *testing.T) {
	i, _ := newRunnerInterface("inst_int", func(c *Config) { c.ConnectOnStartup = false })
	r := NewRunner(i, nil)
	r.Start(context.Background())
	defer r.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.False(t, i.Connected())
	assert.False(t, r.Wanted())

	r.Connect()
	require.Eventually(t, i.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Disconnect())
	time.Sleep(30 * time.Millisecond)
	assert.False(t, i.Connected())
	assert.False(t, r.Wanted())
}

func Test_RunnerRetriesFailedConnect(t *testing.T) {
	i, m := newRunnerInterface("inst_int", nil)
	m.FailConnect(errors.New("refused"))
	r := NewRunner(i, nil)
	r.Start(context.Background())
	defer r.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.False(t, i.Connected())
	assert.True(t, r.Wanted())

	m.FailConnect(nil)
	require.Eventually(t, i.Connected, time.Second, 5*time.Millisecond)
}

func Test_RunnerWithoutAutoReconnect(t *testing.T) {
	t.Run("connect failure", func(t *testing.T) {
		i, m := newRunnerInterface("inst_int", func(c *Config) { c.AutoReconnect = false })
		m.FailConnect(errors.New("refused"))
		r := NewRunner(i, nil)
		r.Start(context.Background())
		defer r.Stop()

		require.Eventually(t, func() bool { return !r.Wanted() }, time.Second, 5*time.Millisecond)
		m.FailConnect(nil)
		time.Sleep(30 * time.Millisecond)
		assert.False(t, i.Connected())
	})

	t.Run("connection lost", func(t *testing.T) {
		i, m := newRunnerInterface("inst_int", func(c *Config) { c.AutoReconnect = false })
		r := NewRunner(i, nil)
		r.Start(context.Background())
		defer r.Stop()

		require.Eventually(t, i.Connected, time.Second, 5*time.Millisecond)
		m.CloseRemote()
		require.Eventually(t, func() bool { return !r.Wanted() }, time.Second, 5*time.Millisecond)
		assert.False(t, i.Connected())
	})
}

func Test_RunnerStopDisconnects(t *testing.T) {
	i, _ := newRunnerInterface("inst_int", nil)
	r := NewRunner(i, nil)
	r.Start(context.Background())
	require.Eventually(t, i.Connected, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	assert.False(t, i.Connected())

	r.Stop()
}

func Test_Manager(t *testing.T) {
	m := NewManager(nil)
	sink := &packetSink{}
	m.OnPacket(sink.handle)

	inst, instStream := newRunnerInterface("inst_int", func(c *Config) { c.TargetNames = []string{"INST"} })
	scope, scopeStream := newRunnerInterface("scope_int", func(c *Config) { c.TargetNames = []string{"SCOPE"} })

	_, err := m.Add(scope)
	require.NoError(t, err)
	_, err = m.Add(inst)
	require.NoError(t, err)
	_, err = m.Add(inst)
	assert.ErrorContains(t, err, "already registered")

	runner, ok := m.Get("inst_int")
	require.True(t, ok)
	assert.Same(t, inst, runner.Link())
	_, ok = m.Get("nope")
	assert.False(t, ok)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "INST_INT", list[0].Link().Name())
	assert.Equal(t, "SCOPE_INT", list[1].Link().Name())

	runner, ok = m.ForTarget("scope")
	require.True(t, ok)
	assert.Equal(t, "SCOPE_INT", runner.Link().Name())

	m.StartAll(context.Background())
	require.Eventually(t, func() bool { return inst.Connected() && scope.Connected() }, time.Second, 5*time.Millisecond)

	instStream.Feed([]byte{0x01})
	scopeStream.Feed([]byte{0x02})
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, m.WriteTarget(ctx, packet.New("SCOPE", "SET_VOLTS", []byte{0x03})))
	assert.Equal(t, [][]byte{{0x03}}, scopeStream.Written())
	assert.Empty(t, instStream.Written())
	assert.ErrorContains(t, m.WriteTarget(ctx, packet.New("NOPE", "CMD", nil)), "no interface maps target")

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, StateConnected, statuses[0].State)

	m.StopAll()
	assert.False(t, inst.Connected())
	assert.False(t, scope.Connected())
}
