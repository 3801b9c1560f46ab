package function

import (
	"slices"
	"sync"

	"lightd/internal/universe"
)

// Collection starts all its members together and finishes when none of
// them is running any more.
type Collection struct {
	Base

	members []ID // guarded by Base.mu

	runMu   sync.Mutex
	started []Function
}

func NewCollection(d *Doc, name string) *Collection {
	c := &Collection{}
	c.init(d, KindCollection, name)
	return c
}

func (c *Collection) AddMember(id ID) bool {
	if id == InvalidID || id == c.ID() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.members, id) {
		return false
	}
	c.members = append(c.members, id)
	return true
}

func (c *Collection) RemoveMember(id ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.Index(c.members, id)
	if i < 0 {
		return false
	}
	c.members = slices.Delete(c.members, i, i+1)
	return true
}

func (c *Collection) Members() []ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.members)
}

func (c *Collection) Arm()    {}
func (c *Collection) Disarm() {}

func (c *Collection) PreRun(t Timer) {
	c.runMu.Lock()
	c.started = c.started[:0]
	c.runMu.Unlock()
	c.Base.PreRun(t)
}

func (c *Collection) Write(t Timer, _ *universe.Array) bool {
	if c.StopRequested() {
		return false
	}
	k := c.tick()

	c.runMu.Lock()
	defer c.runMu.Unlock()

	if k == 1 && c.doc != nil {
		for _, id := range c.Members() {
			f := c.doc.Function(id)
			if f == nil || f.ID() == c.ID() {
				continue
			}
			t.StartFunction(f, true)
			c.started = append(c.started, f)
		}
	}
	for _, f := range c.started {
		if f.IsRunning() {
			return true
		}
	}
	return false
}

func (c *Collection) PostRun(_ Timer, _ *universe.Array) {
	c.finish(func() {
		c.runMu.Lock()
		for _, f := range c.started {
			f.Stop()
		}
		c.started = c.started[:0]
		c.runMu.Unlock()
	})
}

func (c *Collection) CopyFrom(other Function) error {
	o, ok := other.(*Collection)
	if !ok {
		return ErrKindMismatch
	}
	if o == c {
		return nil
	}
	c.copyBase(&o.Base)
	members := o.Members()
	c.mu.Lock()
	c.members = members
	c.mu.Unlock()
	return nil
}

func (c *Collection) functionRemoved(id ID) { c.RemoveMember(id) }
