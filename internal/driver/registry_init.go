// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/iface"
	"groundlink/internal/protocol"
	"groundlink/internal/server"
	"groundlink/internal/stream"
)

// RegisterDefaultLinks registers a factory for every stream type and the TCP server
func RegisterDefaultLinks(registry *Registry) {
	for _, kind := range []string{
		stream.KindTCPClient,
		stream.KindUDP,
		stream.KindSerial,
		stream.KindUSB,
		stream.KindLoopback,
	} {
		registry.Register(kind, newStreamLink)
	}
	registry.Register(stream.KindTCPServer, newServerLink)
}

// newStreamLink creates an interface over a single stream
func newStreamLink(base iface.Config, cfg *config.InterfaceConfig, env protocol.Env, logger *zap.Logger) (Link, error) {
	s, err := stream.Create(cfg.Type, cfg.Stream, logger.With(zap.String("interface", base.Name)))
	if err != nil {
		return nil, err
	}
	return iface.New(base, s, env, logger), nil
}

// newServerLink creates a TCP server fanning out to its clients
func newServerLink(base iface.Config, cfg *config.InterfaceConfig, env protocol.Env, logger *zap.Logger) (Link, error) {
	serverConfig, err := stream.ParseTCPServerConfig(cfg.Stream)
	if err != nil {
		return nil, err
	}
	return server.New(base, serverConfig, env, logger), nil
}
