package function

import (
	"slices"
	"sort"
	"sync"

	"lightd/internal/eventbus"
	"lightd/internal/fixture"
	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

// SceneValue is the persistent intent of a scene: one fixture channel at
// one level.
type SceneValue struct {
	Fixture fixture.ID
	Channel int
	Value   uint8
}

func (v SceneValue) less(o SceneValue) bool {
	if v.Fixture != o.Fixture {
		return v.Fixture < o.Fixture
	}
	return v.Channel < o.Channel
}

// fadeChannel is the runtime fade state of one SceneValue while armed.
type fadeChannel struct {
	fixture fixture.ID
	channel int
	addr    int
	group   universe.Group

	value   uint8 // configured level
	start   uint8
	current uint8
	target  uint8

	// ready: target reached; held: written once more after that.
	ready bool
	held  bool
}

type Scene struct {
	Base

	values []SceneValue // guarded by Base.mu, sorted

	fadeMu   sync.Mutex
	armed    bool
	stale    bool // values changed shape since Arm
	fades    []fadeChannel
	captured bool
	cycle    uint32
}

func NewScene(d *Doc, name string) *Scene {
	s := &Scene{}
	s.init(d, KindScene, name)
	return s
}

// SetValue adds or replaces the value for (fixture, channel).
func (s *Scene) SetValue(v SceneValue) {
	s.mu.Lock()
	i := sort.Search(len(s.values), func(i int) bool { return !s.values[i].less(v) })
	if i < len(s.values) && s.values[i].Fixture == v.Fixture && s.values[i].Channel == v.Channel {
		s.values[i] = v
	} else {
		s.values = append(s.values, SceneValue{})
		copy(s.values[i+1:], s.values[i:])
		s.values[i] = v
	}
	s.mu.Unlock()

	s.fadeMu.Lock()
	found := false
	for i := range s.fades {
		fc := &s.fades[i]
		if fc.fixture == v.Fixture && fc.channel == v.Channel {
			found = true
			fc.value = v.Value
			if !s.IsRunning() {
				fc.target = v.Value
			}
		}
	}
	if s.armed && !found {
		s.stale = true
	}
	s.fadeMu.Unlock()
}

// UnsetValue removes the value for (fixture, channel). An armed scene stops
// writing that channel immediately.
func (s *Scene) UnsetValue(fx fixture.ID, channel int) bool {
	s.mu.Lock()
	removed := false
	for i, v := range s.values {
		if v.Fixture == fx && v.Channel == channel {
			s.values = append(s.values[:i], s.values[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if !removed {
		return false
	}

	s.fadeMu.Lock()
	s.fades = slices.DeleteFunc(s.fades, func(fc fadeChannel) bool {
		return fc.fixture == fx && fc.channel == channel
	})
	s.fadeMu.Unlock()
	return true
}

func (s *Scene) Value(fx fixture.ID, channel int) (uint8, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.values {
		if v.Fixture == fx && v.Channel == channel {
			return v.Value, true
		}
	}
	return 0, false
}

// Values returns a copy sorted by fixture then channel.
func (s *Scene) Values() []SceneValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SceneValue(nil), s.values...)
}

// Arm resolves every value to a buffer address. Values whose fixture is gone
// or whose channel overflows the fixture are dropped for good. An armed scene
// whose values gained a channel since is rebuilt, unless it is running.
func (s *Scene) Arm() {
	s.fadeMu.Lock()
	defer s.fadeMu.Unlock()
	if s.armed && (!s.stale || s.IsRunning()) {
		return
	}

	s.mu.Lock()
	kept := s.values[:0]
	fades := make([]fadeChannel, 0, len(s.values))
	for _, v := range s.values {
		var fx *fixture.Fixture
		if s.doc != nil {
			fx = s.doc.Fixture(v.Fixture)
		}
		if fx == nil {
			s.logger().Debug("scene value dropped: no fixture", logx.Uint32("fixture", uint32(v.Fixture)), logx.Int("channel", v.Channel))
			continue
		}
		ch, ok := fx.Channel(v.Channel)
		if !ok {
			s.logger().Debug("scene value dropped: channel out of range", logx.Uint32("fixture", uint32(v.Fixture)), logx.Int("channel", v.Channel))
			continue
		}
		kept = append(kept, v)
		fades = append(fades, fadeChannel{
			fixture: v.Fixture,
			channel: v.Channel,
			addr:    fx.ChannelAddress(v.Channel),
			group:   ch.Group,
			value:   v.Value,
			target:  v.Value,
		})
	}
	clear(s.values[len(kept):])
	s.values = kept
	s.mu.Unlock()

	s.fades = fades
	s.armed = true
	s.stale = false
}

// Disarm folds the fade channels back into the persistent values and drops
// the runtime state.
func (s *Scene) Disarm() {
	s.fadeMu.Lock()
	defer s.fadeMu.Unlock()
	if !s.armed {
		return
	}
	s.mu.Lock()
	for _, fc := range s.fades {
		for i := range s.values {
			if s.values[i].Fixture == fc.fixture && s.values[i].Channel == fc.channel {
				s.values[i].Value = fc.value
			}
		}
	}
	s.mu.Unlock()
	s.fades = nil
	s.armed = false
	s.stale = false
}

func (s *Scene) PreRun(t Timer) {
	s.fadeMu.Lock()
	s.captured = false
	s.cycle = 0
	for i := range s.fades {
		fc := &s.fades[i]
		fc.target = fc.value
		fc.ready, fc.held = false, false
	}
	s.fadeMu.Unlock()
	s.Base.PreRun(t)
}

func (s *Scene) Write(t Timer, u *universe.Array) bool {
	if s.StopRequested() {
		return false
	}
	s.tick()

	s.fadeMu.Lock()
	defer s.fadeMu.Unlock()

	if !s.captured {
		for i := range s.fades {
			fc := &s.fades[i]
			fc.start = u.PreGM(fc.addr)
			fc.current = fc.start
		}
		s.captured = true
	}

	duration := uint64(s.busValue(s.FadeBus())) + 1
	s.cycle++
	k := uint64(s.cycle)
	done := k >= duration

	for i := range s.fades {
		fc := &s.fades[i]
		if done {
			fc.current = fc.target
		} else {
			delta := (int64(fc.target) - int64(fc.start)) * int64(k) / int64(duration)
			fc.current = uint8(int64(fc.start) + delta)
		}
		mix(fc, u)
	}

	if !done {
		return true
	}
	switch s.RunOrder() {
	case SingleShot:
		return false
	case PingPong:
		for i := range s.fades {
			fc := &s.fades[i]
			if fc.start != fc.target {
				fc.start, fc.target = fc.target, fc.start
				fc.ready, fc.held = false, false
			}
		}
	default:
		for i := range s.fades {
			s.fades[i].current = s.fades[i].start
		}
	}
	s.cycle = 0
	return true
}

// mix applies HTP to intensity channels and LTP to the rest. An LTP channel
// keeps writing while it fades, on the tick it lands and on one tick after
// that; then it stops writing and leaves the buffer to other writers.
func mix(fc *fadeChannel, u *universe.Array) {
	if fc.group == universe.Intensity {
		if fc.current >= u.PreGM(fc.addr) {
			u.Write(fc.addr, fc.current, fc.group)
		}
		return
	}
	switch {
	case fc.current != fc.target:
		fc.ready, fc.held = false, false
	case !fc.ready:
		fc.ready = true
	case !fc.held:
		fc.held = true
	default:
		return
	}
	u.Write(fc.addr, fc.current, fc.group)
}

func (s *Scene) PostRun(t Timer, u *universe.Array) {
	s.finish(nil)
}

// Flash asserts every value at its configured level as a raw writer. It is
// refused while the scene runs.
func (s *Scene) Flash(t Timer) {
	if s.IsRunning() || !s.flashing.CompareAndSwap(false, true) {
		return
	}
	t.RegisterWriter(s)
	s.publish(eventbus.FunctionFlashing)
}

func (s *Scene) UnFlash(t Timer) {
	if !s.flashing.CompareAndSwap(true, false) {
		return
	}
	t.UnregisterWriter(s)
	s.publish(eventbus.FunctionFlashing)
}

// WriteDMX is the flash writer.
func (s *Scene) WriteDMX(_ Timer, u *universe.Array) {
	if s.flashing.Load() {
		s.assert(u)
	}
}

// holdTargets makes the next run start at its targets instead of fading in
// from the buffer. Call it after PreRun.
func (s *Scene) holdTargets() {
	s.fadeMu.Lock()
	for i := range s.fades {
		fc := &s.fades[i]
		fc.start, fc.current = fc.target, fc.target
	}
	s.captured = true
	s.fadeMu.Unlock()
}

// assert writes every value at its configured level, bypassing the fade.
func (s *Scene) assert(u *universe.Array) {
	if s.doc == nil || u == nil {
		return
	}
	for _, v := range s.Values() {
		fx := s.doc.Fixture(v.Fixture)
		if fx == nil {
			continue
		}
		ch, ok := fx.Channel(v.Channel)
		if !ok {
			continue
		}
		u.Write(fx.ChannelAddress(v.Channel), v.Value, ch.Group)
	}
}

func (s *Scene) CopyFrom(other Function) error {
	o, ok := other.(*Scene)
	if !ok {
		return ErrKindMismatch
	}
	if o == s {
		return nil
	}
	s.copyBase(&o.Base)
	vals := o.Values()
	s.mu.Lock()
	s.values = vals
	s.mu.Unlock()
	s.fadeMu.Lock()
	s.stale = s.armed
	s.fadeMu.Unlock()
	return nil
}

func (s *Scene) fixtureRemoved(id fixture.ID) {
	s.mu.Lock()
	kept := s.values[:0]
	for _, v := range s.values {
		if v.Fixture != id {
			kept = append(kept, v)
		}
	}
	clear(s.values[len(kept):])
	s.values = kept
	s.mu.Unlock()

	s.fadeMu.Lock()
	fades := s.fades[:0]
	for _, fc := range s.fades {
		if fc.fixture != id {
			fades = append(fades, fc)
		}
	}
	s.fades = fades
	s.fadeMu.Unlock()
}

func (s *Scene) logger() logx.Logger {
	if s.doc == nil {
		return logx.Nop()
	}
	return s.doc.log.With(logx.String("scene", s.name))
}
