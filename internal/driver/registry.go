// internal/driver/registry.go
package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/iface"
	"groundlink/internal/protocol"
)

// LinkFactory creates the link of one configured interface. Protocols are
// added by the registry afterwards.
type LinkFactory func(base iface.Config, cfg *config.InterfaceConfig, env protocol.Env, logger *zap.Logger) (Link, error)

// Link is a link that accepts protocol descriptors
type Link interface {
	iface.Link
	AddProtocol(desc protocol.Descriptor) error
}

// Registry maps interface types to link factories
type Registry struct {
	factories map[string]LinkFactory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]LinkFactory),
		logger:    logger,
	}
}

// Register registers the factory of an interface type
func (r *Registry) Register(kind string, factory LinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[strings.ToLower(kind)] = factory
	r.logger.Debug("Link factory registered", zap.String("type", kind))
}

// IsSupported reports whether kind has a factory
func (r *Registry) IsSupported(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(kind)]
	return ok
}

// Kinds returns the registered interface types
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates the link of cfg and adds its protocols in order
func (r *Registry) Build(cfg *config.InterfaceConfig, env protocol.Env) (Link, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(cfg.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no link factory for interface type %s (supported: %s)", cfg.Type, strings.Join(r.Kinds(), ", "))
	}

	link, err := factory(InterfaceSettings(cfg), cfg, env, r.logger)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", cfg.Name, err)
	}

	for i, pc := range cfg.Protocols {
		desc := protocol.Descriptor{
			Type:      pc.Type,
			Args:      protocol.Args(pc.Args),
			Direction: protocol.Direction(pc.Direction),
		}
		if err := link.AddProtocol(desc); err != nil {
			return nil, fmt.Errorf("interface %s protocols[%d]: %w", cfg.Name, i, err)
		}
	}

	r.logger.Info("Interface built",
		zap.String("interface", link.Name()),
		zap.String("type", cfg.Type),
		zap.Strings("targets", cfg.Targets),
		zap.Int("protocols", len(cfg.Protocols)),
	)
	return link, nil
}

// InterfaceSettings converts the configured attributes of an interface
func InterfaceSettings(cfg *config.InterfaceConfig) iface.Config {
	settings := iface.DefaultConfig(cfg.Name)
	settings.TargetNames = append([]string{}, cfg.Targets...)
	settings.ConnectOnStartup = cfg.IsConnectOnStartup()
	settings.AutoReconnect = cfg.IsAutoReconnect()
	settings.ReconnectDelay = cfg.ReconnectDelayOrDefault()
	settings.DisableDisconnect = cfg.DisableDisconnect
	settings.ReadAllowed = cfg.IsReadAllowed()
	settings.WriteAllowed = cfg.IsWriteAllowed()
	settings.WriteRawAllowed = cfg.IsWriteRawAllowed()
	settings.Options = cfg.Options
	return settings
}
