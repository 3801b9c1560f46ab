package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the engine.
const (
	FunctionRunning  = "function.running"
	FunctionStopped  = "function.stopped"
	FunctionFlashing = "function.flashing"
	FunctionRemoved  = "function.removed"
	FixtureRemoved   = "fixture.removed"
	BusValue         = "bus.value"
	BusTapped        = "bus.tapped"
)

// Event is a lightweight, in-memory signal used to decouple the engine from
// whatever consumes its notifications (status pages, storage, a UI).
//
// Contract:
//   - Publish MUST be non-blocking; it runs on the tick goroutine.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// FunctionEvent is the Data of every function.* event.
type FunctionEvent struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Chained  bool   `json:"chained,omitempty"`
	Flashing bool   `json:"flashing,omitempty"`
}

// FixtureEvent is the Data of fixture.removed.
type FixtureEvent struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// BusEvent is the Data of bus.* events.
type BusEvent struct {
	ID    uint32 `json:"id"`
	Value uint32 `json:"value"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything. Components fall back to it when no bus is wired.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// An unsubscribe may close ch between the snapshot and the send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
