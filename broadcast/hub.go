package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const defaultBuffer = 64

// Subscription is one observer's handle on the hub. Events arrive on C until
// the observer closes it or the hub drops it for falling behind.
type Subscription struct {
	id   string
	ch   chan Event
	hub  *Hub
	once sync.Once
}

// ID returns the observer's registry key.
func (s *Subscription) ID() string { return s.id }

// C returns the event stream. It is closed exactly once, on unsubscribe.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unsubscribes the observer. Safe to call more than once.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Hub is the process-wide registry of observers. Publish never blocks: an
// observer whose buffer is full is removed on the spot.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Subscription
	buffer    int
	logger    *slog.Logger
	gauge     metric.Int64UpDownCounter
	dropped   metric.Int64Counter
}

// Option customises a Hub.
type Option func(*Hub)

// WithBuffer sets the per-observer queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets the hub's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates an empty observer registry.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		observers: make(map[string]*Subscription),
		buffer:    defaultBuffer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	meter := otel.Meter("jurisflow/broadcast")
	h.gauge, _ = meter.Int64UpDownCounter("broadcast.observers",
		metric.WithDescription("Currently subscribed observers"))
	h.dropped, _ = meter.Int64Counter("broadcast.observers.dropped",
		metric.WithDescription("Observers removed for falling behind"))
	return h
}

// Subscribe registers a new observer. It receives every event published after
// this call returns.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:  uuid.NewString(),
		ch:  make(chan Event, h.buffer),
		hub: h,
	}

	h.mu.Lock()
	h.observers[sub.id] = sub
	h.mu.Unlock()

	h.record(1)
	return sub
}

// Unsubscribe removes the observer and closes its stream. Removing an
// observer that is already gone is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.observers[sub.id]
	delete(h.observers, sub.id)
	// Closing under the write lock keeps Publish, which sends under the read
	// lock, from ever writing to a closed channel.
	sub.once.Do(func() { close(sub.ch) })
	h.mu.Unlock()

	if ok {
		h.record(-1)
	}
}

// Publish fans evt out to every current observer.
func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	var slow []*Subscription
	h.mu.RLock()
	for _, sub := range h.observers {
		select {
		case sub.ch <- evt:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("dropping slow observer", "observer_id", sub.id, "event_type", evt.Type, "case_id", evt.CaseID)
		h.Unsubscribe(sub)
		if h.dropped != nil {
			h.dropped.Add(context.Background(), 1)
		}
	}
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Close drops every observer.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.observers))
	for _, sub := range h.observers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
}

func (h *Hub) record(delta int64) {
	if h.gauge != nil {
		h.gauge.Add(context.Background(), delta)
	}
}
