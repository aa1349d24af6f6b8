// internal/iface/manager.go
package iface

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

// ErrNoInterface is returned when no interface maps a target
var ErrNoInterface = errors.New("iface: no interface maps target")

// Manager owns the runners for every configured link
type Manager struct {
	logger *zap.Logger

	mutex   sync.RWMutex
	runners map[string]*Runner
	sinks   []PacketHandler
}

// NewManager creates an empty manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:  logger,
		runners: make(map[string]*Runner),
	}
}

// OnPacket registers a handler that every runner, present and future, feeds
func (m *Manager) OnPacket(handler PacketHandler) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sinks = append(m.sinks, handler)
	for _, runner := range m.runners {
		runner.OnPacket(handler)
	}
}

// Add registers a link and returns its runner
func (m *Manager) Add(link Link) (*Runner, error) {
	name := strings.ToUpper(link.Name())

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.runners[name]; exists {
		return nil, fmt.Errorf("interface %s already registered", name)
	}

	runner := NewRunner(link, m.logger)
	for _, sink := range m.sinks {
		runner.OnPacket(sink)
	}
	m.runners[name] = runner
	return runner, nil
}

// Get returns the runner for name
func (m *Manager) Get(name string) (*Runner, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	runner, ok := m.runners[strings.ToUpper(name)]
	return runner, ok
}

// List returns all runners sorted by name
func (m *Manager) List() []*Runner {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	runners := make([]*Runner, 0, len(m.runners))
	for _, runner := range m.runners {
		runners = append(runners, runner)
	}
	sort.Slice(runners, func(i, j int) bool {
		return runners[i].Link().Name() < runners[j].Link().Name()
	})
	return runners
}

// Statuses returns a status snapshot of every link
func (m *Manager) Statuses() []Status {
	runners := m.List()
	statuses := make([]Status, 0, len(runners))
	for _, runner := range runners {
		statuses = append(statuses, runner.Link().Status())
	}
	return statuses
}

// ForTarget returns the runner whose link maps target
func (m *Manager) ForTarget(target string) (*Runner, bool) {
	target = strings.ToUpper(target)
	for _, runner := range m.List() {
		for _, name := range runner.Link().Config().TargetNames {
			if name == target {
				return runner, true
			}
		}
	}
	return nil, false
}

// WriteTarget writes pkt to the link mapping its target
func (m *Manager) WriteTarget(ctx context.Context, pkt *packet.Packet) error {
	runner, ok := m.ForTarget(pkt.TargetName)
	if !ok {
		return fmt.Errorf("%w %s", ErrNoInterface, pkt.TargetName)
	}
	return runner.Link().Write(ctx, pkt)
}

// StartAll starts every runner
func (m *Manager) StartAll(ctx context.Context) {
	for _, runner := range m.List() {
		m.logger.Info("Starting interface", zap.String("interface", runner.Link().Name()))
		runner.Start(ctx)
	}
}

// StopAll stops every runner
func (m *Manager) StopAll() {
	var wg sync.WaitGroup
	for _, runner := range m.List() {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			r.Stop()
		}(runner)
	}
	wg.Wait()
	m.logger.Info("All interfaces stopped")
}
