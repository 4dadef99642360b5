package events

import (
	"sync"
	"sync/atomic"
)

const DefaultBuffer = 64

// Bus fans events out to in-process subscribers.
//
// Delivery is best-effort and at-most-once: a subscriber whose buffer is full
// misses the event and its drop counter increments. There is no replay.
// Events published by one goroutine reach each subscriber in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	onDrop func()
}

type Option func(*Bus)

// WithDropHook registers fn to run whenever an event is dropped for a slow subscriber.
func WithDropHook(fn func()) Option {
	return func(b *Bus) { b.onDrop = fn }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{subs: map[uint64]*Subscription{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a new observer. buffer <= 0 uses DefaultBuffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{id: b.nextID, ch: make(chan Event, buffer), bus: b}
	b.subs[s.id] = s
	return s
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
}

// Subscription is one observer session. It is not restartable: after Close
// the channel is closed and a new Subscribe is needed.
type Subscription struct {
	id      uint64
	ch      chan Event
	bus     *Bus
	once    sync.Once
	dropped atomic.Uint64
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s.id) })
}

// Dropped is the number of events this subscriber missed because it was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }
