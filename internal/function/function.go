// Package function holds the document model (fixtures and functions keyed
// by arena ids) and the closed set of function kinds the engine runs:
// Scene, EFX, Chaser and Collection.
//
// Lifecycle: Stopped -> Arm -> PreRun -> Write (once per tick) -> PostRun.
// Write and PostRun are only ever called from the engine's tick goroutine.
// Stop, StopAndWait, Flash and the setters may be called from anywhere.
package function

import (
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lightd/internal/bus"
	"lightd/internal/eventbus"
	"lightd/internal/fixture"
	"lightd/internal/universe"
)

type ID uint32

// InvalidID never names a live function.
const InvalidID ID = math.MaxUint32

// DefaultStopTimeout bounds StopAndWait when the caller passes zero.
const DefaultStopTimeout = 2 * time.Second

var (
	ErrKindMismatch = errors.New("function: kind mismatch")
	ErrDocFull      = errors.New("function: document is full")
	ErrIDTaken      = errors.New("function: id already in use")
	ErrInvalidID    = errors.New("function: id out of range")
	ErrForeignDoc   = errors.New("function: belongs to another document")
)

type Kind uint8

const (
	KindScene Kind = iota
	KindEFX
	KindChaser
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindScene:
		return "Scene"
	case KindEFX:
		return "EFX"
	case KindChaser:
		return "Chaser"
	case KindCollection:
		return "Collection"
	}
	return "Unknown"
}

func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scene":
		return KindScene, true
	case "efx":
		return KindEFX, true
	case "chaser", "sequence":
		return KindChaser, true
	case "collection", "group":
		return KindCollection, true
	}
	return 0, false
}

type RunOrder uint8

const (
	Loop RunOrder = iota
	SingleShot
	PingPong
)

func (r RunOrder) String() string {
	switch r {
	case SingleShot:
		return "SingleShot"
	case PingPong:
		return "PingPong"
	}
	return "Loop"
}

func ParseRunOrder(s string) (RunOrder, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "loop":
		return Loop, true
	case "singleshot", "single_shot":
		return SingleShot, true
	case "pingpong", "ping_pong":
		return PingPong, true
	}
	return Loop, false
}

type Direction uint8

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "Backward"
	}
	return "Forward"
}

func (d Direction) Reverse() Direction {
	if d == Backward {
		return Forward
	}
	return Backward
}

func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward":
		return Forward, true
	case "backward":
		return Backward, true
	}
	return Forward, false
}

// Timer is the scheduler as seen from a running function.
type Timer interface {
	StartFunction(f Function, chained bool)
	RegisterWriter(w Writer)
	UnregisterWriter(w Writer)
	Frequency() int
}

// Writer is a raw buffer writer. Raw writers run every tick before any
// function.
type Writer interface {
	WriteDMX(t Timer, u *universe.Array)
}

// Function is implemented only by the kinds in this package.
type Function interface {
	ID() ID
	Kind() Kind
	Name() string
	SetName(name string)
	RunOrder() RunOrder
	SetRunOrder(r RunOrder)
	Direction() Direction
	SetDirection(d Direction)
	FadeBus() bus.ID
	SetFadeBus(id bus.ID)

	Elapsed() uint32
	IsRunning() bool
	StopRequested() bool
	IsChained() bool
	SetChained(chained bool)
	IsFlashing() bool

	Arm()
	Disarm()
	PreRun(t Timer)
	// Write advances one tick. It returns false once the function is done.
	Write(t Timer, u *universe.Array) bool
	PostRun(t Timer, u *universe.Array)
	Stop()
	StopAndWait(timeout time.Duration) bool
	Flash(t Timer)
	UnFlash(t Timer)
	CopyFrom(other Function) error

	base() *Base
	fixtureRemoved(id fixture.ID)
	functionRemoved(id ID)
}

// Base carries the state every kind shares. Run flags are atomics so the
// tick goroutine never takes mu on the hot path; mu guards configuration.
type Base struct {
	doc  *Doc
	kind Kind
	id   atomic.Uint32

	mu        sync.RWMutex
	name      string
	runOrder  RunOrder
	direction Direction
	fadeBus   bus.ID

	elapsed  atomic.Uint32
	stopReq  atomic.Bool
	running  atomic.Bool
	chained  atomic.Bool
	flashing atomic.Bool

	stopMu    sync.Mutex
	stoppedCh chan struct{}
}

func (b *Base) init(d *Doc, kind Kind, name string) {
	b.doc = d
	b.kind = kind
	b.name = name
	b.runOrder = Loop
	b.fadeBus = bus.DefaultFade
	b.id.Store(uint32(InvalidID))
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() ID     { return ID(b.id.Load()) }
func (b *Base) Kind() Kind { return b.kind }

func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Base) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

func (b *Base) RunOrder() RunOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.runOrder
}

func (b *Base) SetRunOrder(r RunOrder) {
	if r > PingPong {
		r = Loop
	}
	b.mu.Lock()
	b.runOrder = r
	b.mu.Unlock()
}

func (b *Base) Direction() Direction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.direction
}

func (b *Base) SetDirection(d Direction) {
	if d > Backward {
		d = Forward
	}
	b.mu.Lock()
	b.direction = d
	b.mu.Unlock()
}

func (b *Base) FadeBus() bus.ID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fadeBus
}

func (b *Base) SetFadeBus(id bus.ID) {
	if !id.Valid() {
		id = bus.DefaultFade
	}
	b.mu.Lock()
	b.fadeBus = id
	b.mu.Unlock()
}

func (b *Base) Elapsed() uint32         { return b.elapsed.Load() }
func (b *Base) IsRunning() bool         { return b.running.Load() }
func (b *Base) StopRequested() bool     { return b.stopReq.Load() }
func (b *Base) IsChained() bool         { return b.chained.Load() }
func (b *Base) SetChained(chained bool) { b.chained.Store(chained) }
func (b *Base) IsFlashing() bool        { return b.flashing.Load() }

func (b *Base) tick() uint32 { return b.elapsed.Add(1) }

// busValue reads a bus without locking.
func (b *Base) busValue(id bus.ID) uint32 {
	if b.doc == nil {
		return 0
	}
	return b.doc.buses.Value(id)
}

func (b *Base) PreRun(Timer) {
	b.elapsed.Store(0)
	b.stopReq.Store(false)
	b.stopMu.Lock()
	b.stoppedCh = make(chan struct{})
	b.stopMu.Unlock()
	b.running.Store(true)
	b.publish(eventbus.FunctionRunning)
}

// finish runs the kind-specific stop work and marks the function stopped.
// It fires at most once per run.
func (b *Base) finish(hook func()) {
	if !b.running.Load() {
		return
	}
	if hook != nil {
		hook()
	}
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	b.stopMu.Lock()
	if b.stoppedCh != nil {
		close(b.stoppedCh)
		b.stoppedCh = nil
	}
	b.stopMu.Unlock()
	b.publish(eventbus.FunctionStopped)
}

// Stop asks the function to finish on its next Write.
func (b *Base) Stop() { b.stopReq.Store(true) }

// StopAndWait requests a stop and blocks until PostRun has run or timeout
// passes. It must not be called from the tick goroutine.
func (b *Base) StopAndWait(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	b.stopMu.Lock()
	ch := b.stoppedCh
	b.stopMu.Unlock()
	b.Stop()
	if ch == nil || !b.running.Load() {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// Flash is a no-op for kinds that have nothing to assert.
func (b *Base) Flash(Timer)   {}
func (b *Base) UnFlash(Timer) {}

func (b *Base) copyBase(o *Base) {
	o.mu.RLock()
	name, ro, dir, fb := o.name, o.runOrder, o.direction, o.fadeBus
	o.mu.RUnlock()
	b.mu.Lock()
	b.name, b.runOrder, b.direction, b.fadeBus = name, ro, dir, fb
	b.mu.Unlock()
}

func (b *Base) publish(typ string) {
	if b.doc == nil {
		return
	}
	b.doc.events.Publish(eventbus.Event{Type: typ, Data: eventbus.FunctionEvent{
		ID:       uint32(b.ID()),
		Name:     b.Name(),
		Kind:     b.kind.String(),
		Chained:  b.chained.Load(),
		Flashing: b.flashing.Load(),
	}})
}

func (b *Base) fixtureRemoved(fixture.ID) {}
func (b *Base) functionRemoved(ID)        {}
