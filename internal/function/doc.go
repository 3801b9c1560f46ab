package function

import (
	"fmt"
	"sync"

	"lightd/internal/bus"
	"lightd/internal/eventbus"
	"lightd/internal/fixture"
	logx "lightd/pkg/logx"
)

const (
	FixtureCapacity  = 1024
	FunctionCapacity = 4096
)

// Mode is the document mode. Operate arms every function, Design disarms.
type Mode uint8

const (
	Design Mode = iota
	Operate
)

func (m Mode) String() string {
	if m == Operate {
		return "operate"
	}
	return "design"
}

// Doc owns fixtures and functions and resolves ids for them. It replaces
// any process-wide registry: an engine instance gets its own Doc.
type Doc struct {
	log    logx.Logger
	buses  *bus.Registry
	events eventbus.Bus

	mu        sync.RWMutex
	fixtures  *arena[*fixture.Fixture]
	functions *arena[Function]
	mode      Mode
}

func NewDoc(buses *bus.Registry, events eventbus.Bus, log logx.Logger) *Doc {
	if log.IsZero() {
		log = logx.Nop()
	}
	if events == nil {
		events = eventbus.Nop()
	}
	if buses == nil {
		buses = bus.New(0, events)
	}
	return &Doc{
		log:       log.With(logx.String("comp", "doc")),
		buses:     buses,
		events:    events,
		fixtures:  newArena[*fixture.Fixture](FixtureCapacity),
		functions: newArena[Function](FunctionCapacity),
	}
}

func (d *Doc) Buses() *bus.Registry { return d.buses }
func (d *Doc) Events() eventbus.Bus { return d.events }
func (d *Doc) Logger() logx.Logger  { return d.log }

// AddFixture stores f under id, or under a free id when id is InvalidID.
func (d *Doc) AddFixture(f *fixture.Fixture, id fixture.ID) (fixture.ID, error) {
	if f == nil {
		return fixture.InvalidID, fmt.Errorf("add fixture: nil")
	}
	if id != fixture.InvalidID && id >= FixtureCapacity {
		return fixture.InvalidID, fmt.Errorf("add fixture %d: %w", id, ErrInvalidID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	got, ok := d.fixtures.insert(f, uint32(id))
	if !ok {
		if id != fixture.InvalidID {
			return fixture.InvalidID, fmt.Errorf("add fixture %d: %w", id, ErrIDTaken)
		}
		return fixture.InvalidID, fmt.Errorf("add fixture: %w", ErrDocFull)
	}
	f.ID = fixture.ID(got)
	return f.ID, nil
}

// Fixture returns nil when id is not assigned.
func (d *Doc) Fixture(id fixture.ID) *fixture.Fixture {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, _ := d.fixtures.get(uint32(id))
	return f
}

func (d *Doc) Fixtures() []*fixture.Fixture {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*fixture.Fixture, 0, d.fixtures.len())
	d.fixtures.each(func(_ uint32, f *fixture.Fixture) { out = append(out, f) })
	return out
}

// DeleteFixture removes the fixture and drops every reference to it.
func (d *Doc) DeleteFixture(id fixture.ID) bool {
	d.mu.Lock()
	f, ok := d.fixtures.remove(uint32(id))
	fns := d.functionsLocked()
	d.mu.Unlock()
	if !ok {
		return false
	}
	for _, fn := range fns {
		fn.fixtureRemoved(id)
	}
	d.events.Publish(eventbus.Event{Type: eventbus.FixtureRemoved, Data: eventbus.FixtureEvent{ID: uint32(id), Name: f.Name}})
	d.log.Debug("fixture removed", logx.Uint32("id", uint32(id)), logx.String("name", f.Name))
	return true
}

// AddFunction stores f under id, or under a free id when id is InvalidID.
// In operate mode the new function is armed right away.
func (d *Doc) AddFunction(f Function, id ID) (ID, error) {
	if f == nil {
		return InvalidID, fmt.Errorf("add function: nil")
	}
	b := f.base()
	if b.doc != nil && b.doc != d {
		return InvalidID, fmt.Errorf("add function %q: %w", f.Name(), ErrForeignDoc)
	}
	if cur := b.ID(); cur != InvalidID {
		return InvalidID, fmt.Errorf("add function %q: already added as %d: %w", f.Name(), cur, ErrIDTaken)
	}
	if id != InvalidID && id >= FunctionCapacity {
		return InvalidID, fmt.Errorf("add function %d: %w", id, ErrInvalidID)
	}
	d.mu.Lock()
	got, ok := d.functions.insert(f, uint32(id))
	mode := d.mode
	d.mu.Unlock()
	if !ok {
		if id != InvalidID {
			return InvalidID, fmt.Errorf("add function %d: %w", id, ErrIDTaken)
		}
		return InvalidID, fmt.Errorf("add function: %w", ErrDocFull)
	}
	b.doc = d
	b.id.Store(got)
	if mode == Operate {
		f.Arm()
	}
	return ID(got), nil
}

// Function returns nil when id is not assigned.
func (d *Doc) Function(id ID) Function {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, _ := d.functions.get(uint32(id))
	return f
}

// Functions returns every function in id order.
func (d *Doc) Functions() []Function {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.functionsLocked()
}

func (d *Doc) functionsLocked() []Function {
	out := make([]Function, 0, d.functions.len())
	d.functions.each(func(_ uint32, f Function) { out = append(out, f) })
	return out
}

// FunctionByName returns the first function with the given name.
func (d *Doc) FunctionByName(name string) Function {
	for _, f := range d.Functions() {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// DeleteFunction stops and removes the function and drops every reference
// other functions hold to it.
func (d *Doc) DeleteFunction(id ID) bool {
	d.mu.Lock()
	f, ok := d.functions.remove(uint32(id))
	rest := d.functionsLocked()
	d.mu.Unlock()
	if !ok {
		return false
	}
	f.Stop()
	f.base().id.Store(uint32(InvalidID))
	for _, o := range rest {
		o.functionRemoved(id)
	}
	d.events.Publish(eventbus.Event{Type: eventbus.FunctionRemoved, Data: eventbus.FunctionEvent{ID: uint32(id), Name: f.Name(), Kind: f.Kind().String()}})
	d.log.Debug("function removed", logx.Uint32("id", uint32(id)), logx.String("name", f.Name()))
	return true
}

// NewFunction returns an empty function of the given kind bound to d.
func (d *Doc) NewFunction(kind Kind, name string) Function {
	switch kind {
	case KindEFX:
		return NewEFX(d, name)
	case KindChaser:
		return NewChaser(d, name)
	case KindCollection:
		return NewCollection(d, name)
	default:
		return NewScene(d, name)
	}
}

// CopyFunction adds a configuration copy of id named "Copy of <name>".
func (d *Doc) CopyFunction(id ID) (Function, error) {
	src := d.Function(id)
	if src == nil {
		return nil, fmt.Errorf("copy function %d: not found", id)
	}
	cp := d.NewFunction(src.Kind(), "")
	if err := cp.CopyFrom(src); err != nil {
		return nil, err
	}
	cp.SetName("Copy of " + src.Name())
	if _, err := d.AddFunction(cp, InvalidID); err != nil {
		return nil, err
	}
	return cp, nil
}

func (d *Doc) Mode() Mode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode
}

// SetMode arms (Operate) or disarms (Design) every function.
func (d *Doc) SetMode(m Mode) {
	d.mu.Lock()
	if d.mode == m {
		d.mu.Unlock()
		return
	}
	d.mode = m
	fns := d.functionsLocked()
	d.mu.Unlock()

	for _, f := range fns {
		if m == Operate {
			f.Arm()
		} else {
			f.Disarm()
		}
	}
	d.log.Info("mode changed", logx.String("mode", m.String()), logx.Int("functions", len(fns)))
}
