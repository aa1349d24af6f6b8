// internal/router/nats_router.go
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/packet"
)

const commandTimeout = 10 * time.Second

// Commander sends a command packet to the interface mapping its target
type Commander interface {
	WriteTarget(ctx context.Context, pkt *packet.Packet) error
}

// ConnectNATS connects to the NATS server described by cfg
func ConnectNATS(cfg *config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return conn, nil
}

// NATSRouter publishes every packet read from the interfaces and turns command
// requests into writes.
//
// Subjects:
//
//	<prefix>.tlm.<TARGET>.<PACKET>   identified packets
//	<prefix>.raw.<INTERFACE>         unidentified packets
//	<prefix>.cmd.<TARGET>.<PACKET>   command requests, answered when a reply subject is set
type NATSRouter struct {
	conn      *nats.Conn
	prefix    string
	registry  *packet.Registry
	commander Commander
	logger    *zap.Logger
	sub       *nats.Subscription

	published atomic.Int64
	commands  atomic.Int64
	failures  atomic.Int64
}

// NewNATSRouter creates a router on an established connection
func NewNATSRouter(conn *nats.Conn, prefix string, registry *packet.Registry, commander Commander, logger *zap.Logger) *NATSRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "groundlink"
	}
	return &NATSRouter{
		conn:      conn,
		prefix:    prefix,
		registry:  registry,
		commander: commander,
		logger:    logger.With(zap.String("component", "nats_router")),
	}
}

// TelemetrySubject returns the subject a packet read from link is published on
func (r *NATSRouter) TelemetrySubject(link string, pkt *packet.Packet) string {
	if pkt.Identified() {
		return fmt.Sprintf("%s.tlm.%s.%s", r.prefix, subjectToken(pkt.TargetName), subjectToken(pkt.PacketName))
	}
	return fmt.Sprintf("%s.raw.%s", r.prefix, subjectToken(link))
}

// CommandSubject returns the subject command requests are received on
func (r *NATSRouter) CommandSubject() string {
	return r.prefix + ".cmd.>"
}

// subjectToken keeps names usable as a single subject token
func subjectToken(name string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(name)
}

// HandlePacket publishes a packet. It matches iface.PacketHandler.
func (r *NATSRouter) HandlePacket(link string, pkt *packet.Packet) {
	data, err := json.Marshal(NewPacketMessage(link, pkt))
	if err != nil {
		r.logger.Error("Failed to encode packet", zap.String("packet", pkt.String()), zap.Error(err))
		return
	}
	if err := r.conn.Publish(r.TelemetrySubject(link, pkt), data); err != nil {
		r.logger.Warn("Failed to publish packet", zap.String("packet", pkt.String()), zap.Error(err))
		return
	}
	r.published.Add(1)
}

// Start subscribes to command requests
func (r *NATSRouter) Start() error {
	sub, err := r.conn.Subscribe(r.CommandSubject(), r.handleCommand)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.CommandSubject(), err)
	}
	r.sub = sub
	r.logger.Info("NATS router started", zap.String("commands", r.CommandSubject()))
	return nil
}

// Stop drains the command subscription
func (r *NATSRouter) Stop() {
	if r.sub == nil {
		return
	}
	if err := r.sub.Drain(); err != nil {
		r.logger.Warn("Failed to drain command subscription", zap.Error(err))
	}
	r.sub = nil
}

func (r *NATSRouter) handleCommand(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	resp := r.processCommand(ctx, msg.Subject, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		r.logger.Error("Failed to encode command response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("Failed to respond to command request", zap.Error(err))
	}
}

// processCommand decodes, builds and sends one command request. The target and
// packet default to the last two subject tokens.
func (r *NATSRouter) processCommand(ctx context.Context, subject string, data []byte) CommandResponse {
	r.commands.Add(1)

	var req CommandRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return r.commandFailed(req, fmt.Errorf("%w: %v", ErrInvalidCommand, err))
		}
	}
	tokens := strings.Split(strings.TrimPrefix(subject, r.prefix+".cmd."), ".")
	if len(tokens) == 2 {
		if req.Target == "" {
			req.Target = tokens[0]
		}
		if req.Packet == "" {
			req.Packet = tokens[1]
		}
	}

	cmd, err := BuildCommand(r.registry, req)
	if err != nil {
		return r.commandFailed(req, err)
	}
	if err := r.commander.WriteTarget(ctx, cmd); err != nil {
		return r.commandFailed(req, err)
	}

	r.logger.Info("Command sent",
		zap.String("target", cmd.TargetName),
		zap.String("packet", cmd.PacketName),
	)
	return CommandResponse{OK: true, Target: cmd.TargetName, Packet: cmd.PacketName}
}

func (r *NATSRouter) commandFailed(req CommandRequest, err error) CommandResponse {
	r.failures.Add(1)
	r.logger.Warn("Command request failed",
		zap.String("target", req.Target),
		zap.String("packet", req.Packet),
		zap.Error(err),
	)
	return CommandResponse{
		Target: strings.ToUpper(req.Target),
		Packet: strings.ToUpper(req.Packet),
		Error:  err.Error(),
	}
}

// Stats returns published packets, received commands and failed commands
func (r *NATSRouter) Stats() map[string]int64 {
	return map[string]int64{
		"published":        r.published.Load(),
		"commands":         r.commands.Load(),
		"command_failures": r.failures.Load(),
	}
}
