// Package bus holds the fixed table of fade/hold registers shared by every
// function. A bus value is a duration in ticks.
package bus

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"lightd/internal/eventbus"
)

// Count is the number of buses in a registry.
const Count = 32

type ID uint32

const (
	DefaultFade ID = 0
	DefaultHold ID = 1

	Invalid ID = math.MaxUint32
)

// MaxTapInterval is the longest gap between two taps that still counts as
// a tempo. A longer gap starts a new measurement.
const MaxTapInterval = 5 * time.Second

func (id ID) Valid() bool { return id < Count }

// Info is a point-in-time copy of one bus.
type Info struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Value uint32 `json:"value"`
}

// Registry is an explicitly passed bus table. Values are read lock-free on
// the tick goroutine; names and tap state sit behind mu.
type Registry struct {
	values [Count]atomic.Uint32

	mu      sync.Mutex
	names   [Count]string
	lastTap [Count]time.Time

	frequency int
	events    eventbus.Bus
}

// New returns a registry with all values at zero. frequency is the engine
// tick rate used to convert tap intervals to ticks.
func New(frequency int, events eventbus.Bus) *Registry {
	if frequency <= 0 {
		frequency = 50
	}
	if events == nil {
		events = eventbus.Nop()
	}
	r := &Registry{frequency: frequency, events: events}
	r.names[DefaultFade] = "Fade"
	r.names[DefaultHold] = "Hold"
	for i := 2; i < Count; i++ {
		r.names[i] = fmt.Sprintf("Bus %d", i+1)
	}
	return r
}

// Value returns the bus value in ticks, or 0 for an invalid id.
func (r *Registry) Value(id ID) uint32 {
	if !id.Valid() {
		return 0
	}
	return r.values[id].Load()
}

func (r *Registry) SetValue(id ID, v uint32) bool {
	if !id.Valid() {
		return false
	}
	if r.values[id].Swap(v) != v {
		r.events.Publish(eventbus.Event{Type: eventbus.BusValue, Data: eventbus.BusEvent{ID: uint32(id), Value: v}})
	}
	return true
}

func (r *Registry) Name(id ID) string {
	if !id.Valid() {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names[id]
}

func (r *Registry) SetName(id ID, name string) bool {
	if !id.Valid() {
		return false
	}
	r.mu.Lock()
	r.names[id] = name
	r.mu.Unlock()
	return true
}

// Tap feeds an external tempo tap. Two taps within MaxTapInterval set the
// bus to the interval between them, converted to ticks.
func (r *Registry) Tap(id ID, at time.Time) bool {
	if !id.Valid() {
		return false
	}
	r.mu.Lock()
	prev := r.lastTap[id]
	r.lastTap[id] = at
	r.mu.Unlock()

	if gap := at.Sub(prev); !prev.IsZero() && gap > 0 && gap <= MaxTapInterval {
		r.SetValue(id, uint32(math.Round(gap.Seconds()*float64(r.frequency))))
	}
	r.events.Publish(eventbus.Event{Type: eventbus.BusTapped, Time: at, Data: eventbus.BusEvent{ID: uint32(id), Value: r.Value(id)}})
	return true
}

// Snapshot returns every bus in id order.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	names := r.names
	r.mu.Unlock()

	out := make([]Info, Count)
	for i := range out {
		out[i] = Info{ID: ID(i), Name: names[i], Value: r.values[i].Load()}
	}
	return out
}
