package function

import (
	"slices"
	"sync"

	"lightd/internal/bus"
	"lightd/internal/universe"
)

// Chaser runs its steps one after another. Each step is held for the hold
// bus value plus one tick.
type Chaser struct {
	Base

	steps   []ID // guarded by Base.mu
	holdBus bus.ID

	runMu    sync.Mutex
	index    int
	current  Function
	stepTick uint64
	runDir   Direction
}

func NewChaser(d *Doc, name string) *Chaser {
	c := &Chaser{holdBus: bus.DefaultHold}
	c.init(d, KindChaser, name)
	return c
}

// AddStep appends id. The chaser itself, InvalidID and ids already present
// are refused.
func (c *Chaser) AddStep(id ID) bool {
	if id == InvalidID || id == c.ID() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.steps, id) {
		return false
	}
	c.steps = append(c.steps, id)
	return true
}

func (c *Chaser) RemoveStep(id ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.Index(c.steps, id)
	if i < 0 {
		return false
	}
	c.steps = slices.Delete(c.steps, i, i+1)
	return true
}

func (c *Chaser) Steps() []ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.steps)
}

func (c *Chaser) HoldBus() bus.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.holdBus
}

func (c *Chaser) SetHoldBus(id bus.ID) {
	if !id.Valid() {
		id = bus.DefaultHold
	}
	c.mu.Lock()
	c.holdBus = id
	c.mu.Unlock()
}

func (c *Chaser) Arm()    {}
func (c *Chaser) Disarm() {}

func (c *Chaser) PreRun(t Timer) {
	c.runMu.Lock()
	c.current = nil
	c.stepTick = 0
	c.runDir = c.Direction()
	c.index = -1
	c.runMu.Unlock()
	c.Base.PreRun(t)
}

func (c *Chaser) Write(t Timer, _ *universe.Array) bool {
	if c.StopRequested() {
		return false
	}
	k := c.tick()

	c.runMu.Lock()
	defer c.runMu.Unlock()

	if k == 1 {
		return c.advance(t, true)
	}
	c.stepTick++
	if c.stepTick < uint64(c.busValue(c.HoldBus()))+1 {
		return true
	}
	return c.advance(t, false)
}

// advance stops the current step and starts the next existing one. It
// returns false when a single-shot chaser runs off the end or no step can
// be started.
func (c *Chaser) advance(t Timer, first bool) bool {
	steps := c.Steps()
	if len(steps) == 0 || c.doc == nil {
		return false
	}
	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}
	c.stepTick = 0

	idx := c.index
	for range steps {
		var ok bool
		idx, ok = c.next(idx, len(steps), first)
		first = false
		if !ok {
			return false
		}
		f := c.doc.Function(steps[idx])
		if f == nil || f.ID() == c.ID() {
			continue
		}
		c.index = idx
		c.current = f
		t.StartFunction(f, true)
		return true
	}
	return false
}

func (c *Chaser) next(idx, n int, first bool) (int, bool) {
	if first {
		if c.runDir == Backward {
			return n - 1, true
		}
		return 0, true
	}
	step := 1
	if c.runDir == Backward {
		step = -1
	}
	nxt := idx + step
	if nxt >= 0 && nxt < n {
		return nxt, true
	}
	switch c.RunOrder() {
	case Loop:
		if nxt < 0 {
			return n - 1, true
		}
		return 0, true
	case PingPong:
		c.runDir = c.runDir.Reverse()
		nxt = idx - step
		if nxt < 0 || nxt >= n {
			nxt = idx
		}
		return nxt, true
	}
	return 0, false
}

func (c *Chaser) PostRun(_ Timer, _ *universe.Array) {
	c.finish(func() {
		c.runMu.Lock()
		if c.current != nil {
			c.current.Stop()
			c.current = nil
		}
		c.runMu.Unlock()
	})
}

// Current returns the step running now, or nil.
func (c *Chaser) Current() Function {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.current
}

func (c *Chaser) CopyFrom(other Function) error {
	o, ok := other.(*Chaser)
	if !ok {
		return ErrKindMismatch
	}
	if o == c {
		return nil
	}
	c.copyBase(&o.Base)
	steps, hold := o.Steps(), o.HoldBus()
	c.mu.Lock()
	c.steps, c.holdBus = steps, hold
	c.mu.Unlock()
	return nil
}

func (c *Chaser) functionRemoved(id ID) { c.RemoveStep(id) }
