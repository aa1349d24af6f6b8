// internal/handler/event_bus.go
package handler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"groundlink/internal/packet"
	"groundlink/internal/router"
)

// Event types
const (
	EventTelemetry       = "telemetry"
	EventInterfaceState  = "interface_state"
	EventCommandSent     = "command_sent"
	EventOverrideChanged = "override_changed"
)

const (
	eventBusSize          = 1000
	eventSubscriptionSize = 256
)

// Event is something that happened to an interface
type Event struct {
	Type      string      `json:"type"`
	Interface string      `json:"interface"`
	Target    string      `json:"target,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription receives the events of the types it was created for
type Subscription struct {
	C     <-chan Event
	c     chan Event
	types map[string]bool
}

func (s *Subscription) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// EventBus fans events out to subscribers. Publishing never blocks: a full bus
// or a slow subscriber loses events.
type EventBus struct {
	subscribers map[*Subscription]struct{}
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
	dropped     int64
}

// NewEventBus creates an event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[*Subscription]struct{}),
		events:      make(chan Event, eventBusSize),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Run distributes events until ctx is done
func (eb *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Publish queues an event
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case eb.events <- event:
	default:
		eb.mutex.Lock()
		eb.dropped++
		eb.mutex.Unlock()
		eb.logger.Warn("Event bus full, dropping event", zap.String("event_type", event.Type))
	}
}

// PublishPacket publishes a packet read from an interface. It matches
// iface.PacketHandler.
func (eb *EventBus) PublishPacket(link string, pkt *packet.Packet) {
	eb.Publish(Event{
		Type:      EventTelemetry,
		Interface: link,
		Target:    pkt.TargetName,
		Data:      router.NewPacketMessage(link, pkt),
		Timestamp: pkt.ReceivedTime,
	})
}

// Subscribe subscribes to the given event types, or to all of them when none are given
func (eb *EventBus) Subscribe(types ...string) *Subscription {
	c := make(chan Event, eventSubscriptionSize)
	sub := &Subscription{C: c, c: c, types: make(map[string]bool, len(types))}
	for _, t := range types {
		sub.types[t] = true
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	eb.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if _, ok := eb.subscribers[sub]; ok {
		delete(eb.subscribers, sub)
		close(sub.c)
	}
}

// Dropped returns the number of events lost because the bus was full
func (eb *EventBus) Dropped() int64 {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return eb.dropped
}

func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for sub := range eb.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.c <- event:
		default:
			// slow subscriber
		}
	}
}
