package event

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// NameAll subscribes a handler to every event
const NameAll = "*"

// EventHandler consumes download job and asset events
type EventHandler interface {
	// Handle processes the event
	Handle(event DomainEvent) error
	// HandledEvents returns the event names this handler handles, or NameAll
	HandledEvents() []string
}

// EventDispatcher is how the orchestrator and the media handler publish
// job lifecycle and asset-served events
type EventDispatcher interface {
	Dispatch(event DomainEvent)
	Subscribe(handler EventHandler)
}

// InMemoryDispatcher routes events to handlers by name within the process.
// Handlers registered for a name run before NameAll handlers.
type InMemoryDispatcher struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
	async    bool
	logger   *zap.Logger
}

// NewInMemoryDispatcher creates a new InMemoryDispatcher. A nil logger discards handler failures.
func NewInMemoryDispatcher(async bool, logger *zap.Logger) *InMemoryDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryDispatcher{
		handlers: make(map[string][]EventHandler),
		async:    async,
		logger:   logger,
	}
}

// Dispatch delivers event to its named handlers and then to NameAll handlers.
// In sync mode it returns after every handler ran.
func (d *InMemoryDispatcher) Dispatch(event DomainEvent) {
	d.mu.RLock()
	named := d.handlers[event.EventName()]
	all := d.handlers[NameAll]
	targets := make([]EventHandler, 0, len(named)+len(all))
	targets = append(targets, named...)
	targets = append(targets, all...)
	d.mu.RUnlock()

	for _, handler := range targets {
		if d.async {
			go d.deliver(handler, event)
		} else {
			d.deliver(handler, event)
		}
	}
}

// Subscribe registers handler for each of its HandledEvents
func (d *InMemoryDispatcher) Subscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range handler.HandledEvents() {
		d.handlers[name] = append(d.handlers[name], handler)
	}
}

func (d *InMemoryDispatcher) deliver(h EventHandler, event DomainEvent) {
	if err := safeHandle(h, event); err != nil {
		d.logger.Warn("event handler failed",
			zap.String("event", event.EventName()),
			zap.Error(err))
	}
}

// safeHandle keeps a panicking handler from taking down the publisher
func safeHandle(h EventHandler, event DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic on %s: %v", event.EventName(), r)
		}
	}()
	return h.Handle(event)
}

// NullDispatcher drops every event. Used where nothing observes jobs or streams.
type NullDispatcher struct{}

// NewNullDispatcher creates a new NullDispatcher
func NewNullDispatcher() *NullDispatcher {
	return &NullDispatcher{}
}

func (d *NullDispatcher) Dispatch(event DomainEvent) {}

func (d *NullDispatcher) Subscribe(handler EventHandler) {}
