package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Notification is the in-process fan-out form of a committed event.
type Notification struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

type Handler func(Notification) error

// Bus delivers notifications to in-process subscribers after the
// emitting transaction has committed. A failing or panicking handler
// is logged and skipped; it never affects the other handlers or the
// operation that published.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{handlers: map[string][]Handler{}, log: log}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(evtType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[evtType] = append(b.handlers[evtType], h)
}

// Publish delivers a notification to every handler of its type,
// synchronously and in registration order.
func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	handlers := b.handlers[n.Type]
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(h, n)
	}
}

func (b *Bus) deliver(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("type", n.Type),
				zap.String("entity_id", n.EntityID),
				zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	if err := h(n); err != nil {
		b.log.Error("event handler failed",
			zap.String("type", n.Type),
			zap.String("entity_id", n.EntityID),
			zap.Error(err))
	}
}
