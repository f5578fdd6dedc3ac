// Package bus is the internal publish/subscribe fabric, independent of the
// WebSocket layer. Events are tagged by category, carry a priority and
// metadata, and pass through a configurable middleware chain before being
// delivered asynchronously to subscribers. A failing handler never affects
// other handlers; repeated failures trip a per-subscriber circuit breaker.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category tags an event stream.
type Category string

const (
	AuthEvent       Category = "auth"
	ConnectionEvent Category = "connection"
	TerminalEvent   Category = "terminal"
	SessionEvent    Category = "session"
	SystemEvent     Category = "system"
	RecordingEvent  Category = "recording"
)

// Priority orders delivery importance.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Event is one bus message.
type Event struct {
	ID        string
	Category  Category
	Type      string
	Priority  Priority
	SessionID string
	Payload   any
	Metadata  map[string]string
	At        time.Time
}

// Handler processes one event. Handlers may block; each delivery runs on
// its own goroutine.
type Handler func(Event) error

// Middleware inspects or rejects an event before delivery. Returning an
// error drops the event for all subscribers.
type Middleware func(ev *Event, next func(*Event) error) error

type subscriber struct {
	name    string
	handler Handler
	breaker *circuitBreaker
}

// Bus routes events from publishers to category subscribers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[Category][]*subscriber
	middleware []Middleware

	breakerThreshold int
	breakerCooldown  time.Duration

	wg sync.WaitGroup
}

// Options configures a Bus.
type Options struct {
	// Middleware runs in order on every publish.
	Middleware []Middleware
	// BreakerThreshold is the consecutive-failure count that opens a
	// subscriber's circuit (default 5).
	BreakerThreshold int
	// BreakerCooldown is how long an open circuit waits before half-open
	// (default 30s).
	BreakerCooldown time.Duration
}

// New creates a Bus.
func New(opts Options) *Bus {
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	return &Bus{
		subs:             make(map[Category][]*subscriber),
		middleware:       opts.Middleware,
		breakerThreshold: opts.BreakerThreshold,
		breakerCooldown:  opts.BreakerCooldown,
	}
}

// Subscribe registers a handler for a category and returns an unsubscribe
// function.
func (b *Bus) Subscribe(cat Category, name string, h Handler) func() {
	sub := &subscriber{
		name:    name,
		handler: h,
		breaker: newCircuitBreaker(b.breakerThreshold, b.breakerCooldown),
	}
	b.mu.Lock()
	b.subs[cat] = append(b.subs[cat], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[cat]
		for i, s := range list {
			if s == sub {
				b.subs[cat] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish runs the middleware chain and, if the event survives, delivers it
// asynchronously to every subscriber of its category. The returned error is
// the middleware rejection, if any; handler errors never surface here.
func (b *Bus) Publish(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	deliver := func(e *Event) error {
		b.deliver(*e)
		return nil
	}
	chain := deliver
	for i := len(b.middleware) - 1; i >= 0; i-- {
		mw := b.middleware[i]
		next := chain
		chain = func(e *Event) error { return mw(e, next) }
	}
	return chain(&ev)
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	subs := make([]*subscriber, len(b.subs[ev.Category]))
	copy(subs, b.subs[ev.Category])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub := sub
		if !sub.breaker.Allow() {
			continue
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					sub.breaker.Record(errPanic{r})
				}
			}()
			sub.breaker.Record(sub.handler(ev))
		}()
	}
}

// Drain waits for in-flight deliveries to finish.
func (b *Bus) Drain() { b.wg.Wait() }

type errPanic struct{ v any }

func (e errPanic) Error() string { return "handler panic" }
