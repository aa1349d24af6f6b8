// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Scanner finds the ports a link of one stream kind could be opened on
type Scanner interface {
	Scan(ctx context.Context) ([]*Port, error)
	Kind() string
	IsAvailable() bool
}

// Port is a discovered host port. Stream holds a stream configuration that
// opens it, ready to paste into an interface entry.
type Port struct {
	Kind         string                 `json:"kind"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	VendorID     string                 `json:"vendor_id,omitempty"`
	ProductID    string                 `json:"product_id,omitempty"`
	SerialNumber string                 `json:"serial_number,omitempty"`
	Stream       map[string]interface{} `json:"stream"`
}

// Manager runs the registered scanners
type Manager struct {
	mutex    sync.RWMutex
	scanners map[string]Scanner
	logger   *zap.Logger
}

// NewManager creates a scanner manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		scanners: make(map[string]Scanner),
		logger:   logger.With(zap.String("component", "port_discovery")),
	}
}

// Register adds a scanner, replacing any scanner of the same kind
func (m *Manager) Register(scanner Scanner) {
	kind := strings.ToLower(scanner.Kind())
	m.mutex.Lock()
	m.scanners[kind] = scanner
	m.mutex.Unlock()
	m.logger.Debug("Scanner registered", zap.String("kind", kind))
}

// ScanAll runs every available scanner. A failing scanner is logged and skipped.
func (m *Manager) ScanAll(ctx context.Context) []*Port {
	ports := []*Port{}
	for _, kind := range m.Available() {
		scanner, _ := m.scanner(kind)
		found, err := scanner.Scan(ctx)
		if err != nil {
			m.logger.Error("Scanner failed", zap.String("kind", kind), zap.Error(err))
			continue
		}
		m.logger.Info("Scanner completed", zap.String("kind", kind), zap.Int("ports_found", len(found)))
		ports = append(ports, found...)
	}
	return ports
}

// ScanKind runs the scanner of one kind
func (m *Manager) ScanKind(ctx context.Context, kind string) ([]*Port, error) {
	scanner, ok := m.scanner(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, kind)
	}
	ports, err := scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if ports == nil {
		ports = []*Port{}
	}
	return ports, nil
}

// Available returns the kinds whose scanner can run on this host
func (m *Manager) Available() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var kinds []string
	for kind, scanner := range m.scanners {
		if scanner.IsAvailable() {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}

func (m *Manager) scanner(kind string) (Scanner, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	scanner, ok := m.scanners[strings.ToLower(kind)]
	return scanner, ok
}
