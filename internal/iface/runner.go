// internal/iface/runner.go
package iface

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"groundlink/internal/packet"
	"groundlink/internal/stream"
	"groundlink/internal/utils"
)

// Link is anything a Runner can keep connected: a stream Interface or a
// server that fans out to many clients
type Link interface {
	Name() string
	Config() Config
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Read(ctx context.Context) (*packet.Packet, error)
	Write(ctx context.Context, pkt *packet.Packet) error
	WriteRaw(ctx context.Context, data []byte) error
	Status() Status
	Overrides() *packet.OverrideTable
}

// PacketHandler receives every packet read by a runner
type PacketHandler func(link string, pkt *packet.Packet)

// Runner keeps a link connected and dispatches the packets it reads
type Runner struct {
	link   Link
	logger *utils.InterfaceLogger

	mutex    sync.RWMutex
	handlers []PacketHandler
	wanted   bool
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRunner creates a runner for link
func NewRunner(link Link, logger *zap.Logger) *Runner {
	return &Runner{
		link:   link,
		logger: utils.NewInterfaceLogger(logger, link.Name(), "runner"),
		wanted: link.Config().ConnectOnStartup,
		wake:   make(chan struct{}, 1),
	}
}

// Link returns the managed link
func (r *Runner) Link() Link {
	return r.link
}

// OnPacket registers a packet handler
func (r *Runner) OnPacket(handler PacketHandler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers = append(r.handlers, handler)
}

// Start runs the connect and read loop until ctx ends or Stop is called
func (r *Runner) Start(ctx context.Context) {
	r.mutex.Lock()
	if r.done != nil {
		r.mutex.Unlock()
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	done := r.done
	r.mutex.Unlock()

	go func() {
		defer close(done)
		r.run(ctx)
	}()
}

// Stop ends the loop and disconnects the link
func (r *Runner) Stop() {
	r.mutex.Lock()
	cancel, done := r.cancel, r.done
	r.mutex.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.link.Disconnect()
	<-done
}

// Connect asks the runner to connect the link
func (r *Runner) Connect() {
	r.setWanted(true)
}

// Disconnect asks the runner to disconnect the link and keep it disconnected
func (r *Runner) Disconnect() error {
	r.setWanted(false)
	return r.link.Disconnect()
}

// Wanted reports whether the runner is trying to keep the link connected
func (r *Runner) Wanted() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.wanted
}

func (r *Runner) setWanted(wanted bool) {
	r.mutex.Lock()
	r.wanted = wanted
	r.mutex.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) run(ctx context.Context) {
	config := r.link.Config()

	for ctx.Err() == nil {
		if !r.Wanted() {
			r.sleep(ctx, 0)
			continue
		}

		if !r.link.Connected() {
			if err := r.link.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if !config.AutoReconnect {
					r.logger.Warn("Connect failed and auto reconnect is disabled", zap.Error(err))
					r.setWanted(false)
					continue
				}
				r.sleep(ctx, config.ReconnectDelay)
				continue
			}
		}

		r.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}

		if r.Wanted() {
			if !config.AutoReconnect {
				r.logger.Info("Connection lost and auto reconnect is disabled")
				r.setWanted(false)
				continue
			}
			r.logger.Info("Connection lost, reconnecting", zap.Duration("reconnect_delay", config.ReconnectDelay))
			r.sleep(ctx, config.ReconnectDelay)
		}
	}
}

// readLoop reads until the link disconnects
func (r *Runner) readLoop(ctx context.Context) {
	for {
		pkt, err := r.link.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, stream.ErrReadTimeout) {
				r.logger.Warn("Interface read failed", zap.Error(err))
			}
			return
		}
		if pkt == nil {
			return
		}
		r.dispatch(pkt)
	}
}

func (r *Runner) dispatch(pkt *packet.Packet) {
	r.mutex.RLock()
	handlers := append([]PacketHandler{}, r.handlers...)
	r.mutex.RUnlock()

	name := r.link.Name()
	for _, handler := range handlers {
		handler(name, pkt)
	}
}

// sleep waits for d, a wake request or the end of ctx. d of zero waits only
// for a wake request or ctx.
func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	var expired <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-ctx.Done():
	case <-r.wake:
	case <-expired:
	}
}
