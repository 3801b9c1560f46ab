package function

import (
	"math"
	"slices"
	"sync"

	"lightd/internal/fixture"
	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

// Parameter bounds. Setters saturate at these values.
const (
	MaxEFXSize      = 127
	MaxEFXRotation  = 359
	MaxEFXOffset    = 255
	MaxEFXPhase     = 359
	MaxEFXFrequency = 32
)

// EFXFixture is one persistent target of an EFX.
type EFXFixture struct {
	Fixture   fixture.ID
	Direction Direction
}

// BoundaryScene is an optional scene started when an EFX starts or stops.
type BoundaryScene struct {
	ID      ID
	Enabled bool
}

// efxTarget is an armed EFXFixture with resolved buffer addresses (-1 when
// the axis or its fine channel is missing).
type efxTarget struct {
	EFXFixture
	serial           int
	panMSB, panLSB   int
	tiltMSB, tiltLSB int
}

type EFX struct {
	Base

	// guarded by Base.mu
	algorithm   Algorithm
	width       int
	height      int
	rotation    int
	xOffset     int
	yOffset     int
	xFrequency  int
	yFrequency  int
	xPhase      int
	yPhase      int
	propagation Propagation
	startScene  BoundaryScene
	stopScene   BoundaryScene
	fixtures    []EFXFixture

	armMu     sync.Mutex
	armed     bool
	stale     bool // targets or boundary scenes changed since Arm
	targets   []efxTarget
	startFunc *Scene
	stopFunc  *Scene
	// startOwned is set when this run started the start scene.
	startOwned bool
}

func NewEFX(d *Doc, name string) *EFX {
	e := &EFX{
		algorithm:  Circle,
		width:      127,
		height:     127,
		xOffset:    127,
		yOffset:    127,
		xFrequency: 2,
		yFrequency: 3,
		xPhase:     90,
		startScene: BoundaryScene{ID: InvalidID},
		stopScene:  BoundaryScene{ID: InvalidID},
	}
	e.init(d, KindEFX, name)
	return e
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *EFX) setInt(dst *int, v, hi int) {
	e.mu.Lock()
	*dst = clampInt(v, 0, hi)
	e.mu.Unlock()
}

func (e *EFX) getInt(src *int) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *src
}

func (e *EFX) SetAlgorithm(a Algorithm) {
	if a > Lissajous {
		a = Circle
	}
	e.mu.Lock()
	e.algorithm = a
	e.mu.Unlock()
}

func (e *EFX) Algorithm() Algorithm {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.algorithm
}

func (e *EFX) SetWidth(v int)      { e.setInt(&e.width, v, MaxEFXSize) }
func (e *EFX) SetHeight(v int)     { e.setInt(&e.height, v, MaxEFXSize) }
func (e *EFX) SetRotation(v int)   { e.setInt(&e.rotation, v, MaxEFXRotation) }
func (e *EFX) SetXOffset(v int)    { e.setInt(&e.xOffset, v, MaxEFXOffset) }
func (e *EFX) SetYOffset(v int)    { e.setInt(&e.yOffset, v, MaxEFXOffset) }
func (e *EFX) SetXFrequency(v int) { e.setInt(&e.xFrequency, v, MaxEFXFrequency) }
func (e *EFX) SetYFrequency(v int) { e.setInt(&e.yFrequency, v, MaxEFXFrequency) }
func (e *EFX) SetXPhase(v int)     { e.setInt(&e.xPhase, v, MaxEFXPhase) }
func (e *EFX) SetYPhase(v int)     { e.setInt(&e.yPhase, v, MaxEFXPhase) }

func (e *EFX) Width() int      { return e.getInt(&e.width) }
func (e *EFX) Height() int     { return e.getInt(&e.height) }
func (e *EFX) Rotation() int   { return e.getInt(&e.rotation) }
func (e *EFX) XOffset() int    { return e.getInt(&e.xOffset) }
func (e *EFX) YOffset() int    { return e.getInt(&e.yOffset) }
func (e *EFX) XFrequency() int { return e.getInt(&e.xFrequency) }
func (e *EFX) YFrequency() int { return e.getInt(&e.yFrequency) }
func (e *EFX) XPhase() int     { return e.getInt(&e.xPhase) }
func (e *EFX) YPhase() int     { return e.getInt(&e.yPhase) }

func (e *EFX) SetPropagation(p Propagation) {
	if p > Serial {
		p = Parallel
	}
	e.mu.Lock()
	e.propagation = p
	e.mu.Unlock()
}

func (e *EFX) Propagation() Propagation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.propagation
}

func (e *EFX) SetStartScene(b BoundaryScene) {
	e.mu.Lock()
	e.startScene = b
	e.mu.Unlock()
	e.markStale()
}

func (e *EFX) SetStopScene(b BoundaryScene) {
	e.mu.Lock()
	e.stopScene = b
	e.mu.Unlock()
	e.markStale()
}

// markStale makes the next Arm outside a run rebuild the targets.
func (e *EFX) markStale() {
	e.armMu.Lock()
	e.stale = e.armed
	e.armMu.Unlock()
}

func (e *EFX) StartScene() BoundaryScene {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startScene
}

func (e *EFX) StopScene() BoundaryScene {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopScene
}

// AddFixture appends a target. A fixture already in the list is refused.
func (e *EFX) AddFixture(ef EFXFixture) bool {
	e.mu.Lock()
	if e.indexLocked(ef.Fixture) >= 0 {
		e.mu.Unlock()
		return false
	}
	e.fixtures = append(e.fixtures, ef)
	e.mu.Unlock()
	e.markStale()
	return true
}

// RemoveFixture drops a target. A running EFX stops driving it on the next
// tick.
func (e *EFX) RemoveFixture(id fixture.ID) bool {
	e.mu.Lock()
	i := e.indexLocked(id)
	if i < 0 {
		e.mu.Unlock()
		return false
	}
	e.fixtures = append(e.fixtures[:i], e.fixtures[i+1:]...)
	e.mu.Unlock()
	e.dropTarget(id)
	e.markStale()
	return true
}

// RaiseFixture swaps the target with the one before it.
func (e *EFX) RaiseFixture(id fixture.ID) bool {
	e.mu.Lock()
	i := e.indexLocked(id)
	if i <= 0 {
		e.mu.Unlock()
		return false
	}
	e.fixtures[i-1], e.fixtures[i] = e.fixtures[i], e.fixtures[i-1]
	e.mu.Unlock()
	e.markStale()
	return true
}

// LowerFixture swaps the target with the one after it.
func (e *EFX) LowerFixture(id fixture.ID) bool {
	e.mu.Lock()
	i := e.indexLocked(id)
	if i < 0 || i == len(e.fixtures)-1 {
		e.mu.Unlock()
		return false
	}
	e.fixtures[i+1], e.fixtures[i] = e.fixtures[i], e.fixtures[i+1]
	e.mu.Unlock()
	e.markStale()
	return true
}

func (e *EFX) Fixtures() []EFXFixture {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]EFXFixture(nil), e.fixtures...)
}

func (e *EFX) indexLocked(id fixture.ID) int {
	for i, f := range e.fixtures {
		if f.Fixture == id {
			return i
		}
	}
	return -1
}

func (e *EFX) shape() shape {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rot := degToRad(e.rotation)
	return shape{
		algorithm: e.algorithm,
		width:     float64(e.width),
		height:    float64(e.height),
		xOffset:   float64(e.xOffset),
		yOffset:   float64(e.yOffset),
		rotSin:    math.Sin(rot),
		rotCos:    math.Cos(rot),
		xFreq:     float64(e.xFrequency),
		yFreq:     float64(e.yFrequency),
		xPhase:    degToRad(e.xPhase),
		yPhase:    degToRad(e.yPhase),
	}
}

// Preview samples the curve at res evenly spaced angles. It uses the same
// geometry as the running EFX.
func (e *EFX) Preview(res int) []Point {
	if res <= 0 {
		res = DefaultPreviewResolution
	}
	s := e.shape()
	out := make([]Point, res)
	for i := range out {
		x, y := s.point(2 * math.Pi * float64(i) / float64(res))
		out[i] = Point{X: roundHalfUp(x), Y: roundHalfUp(y)}
	}
	return out
}

// Arm resolves targets to pan/tilt addresses and the boundary scenes to
// functions. Targets with neither pan nor tilt are skipped. An EFX edited
// since it was armed is rebuilt, unless it is running.
func (e *EFX) Arm() {
	e.armMu.Lock()
	defer e.armMu.Unlock()
	if e.armed && (!e.stale || e.IsRunning()) {
		return
	}
	fixtures := e.Fixtures()
	e.targets = e.targets[:0]
	for _, ef := range fixtures {
		var fx *fixture.Fixture
		if e.doc != nil {
			fx = e.doc.Fixture(ef.Fixture)
		}
		if fx == nil {
			e.logger().Debug("efx target skipped: no fixture", logx.Uint32("fixture", uint32(ef.Fixture)))
			continue
		}
		h := fx.Head()
		if h.PanMSB < 0 && h.TiltMSB < 0 {
			e.logger().Debug("efx target skipped: no pan/tilt", logx.Uint32("fixture", uint32(ef.Fixture)))
			continue
		}
		e.targets = append(e.targets, efxTarget{
			EFXFixture: ef,
			serial:     len(e.targets),
			panMSB:     fx.ChannelAddress(h.PanMSB),
			panLSB:     fx.ChannelAddress(h.PanLSB),
			tiltMSB:    fx.ChannelAddress(h.TiltMSB),
			tiltLSB:    fx.ChannelAddress(h.TiltLSB),
		})
	}
	e.startFunc = e.resolveScene(e.StartScene().ID)
	e.stopFunc = e.resolveScene(e.StopScene().ID)
	e.armed = true
	e.stale = false
}

func (e *EFX) resolveScene(id ID) *Scene {
	if id == InvalidID || e.doc == nil {
		return nil
	}
	sc, _ := e.doc.Function(id).(*Scene)
	return sc
}

func (e *EFX) Disarm() {
	e.armMu.Lock()
	defer e.armMu.Unlock()
	e.targets = nil
	e.startFunc, e.stopFunc = nil, nil
	e.armed = false
	e.stale = false
}

func (e *EFX) PreRun(t Timer) {
	e.armMu.Lock()
	e.startOwned = false
	e.armMu.Unlock()
	e.Base.PreRun(t)
}

func (e *EFX) Write(t Timer, u *universe.Array) bool {
	if e.StopRequested() {
		return false
	}
	k := e.tick()

	e.armMu.Lock()
	defer e.armMu.Unlock()

	// The start scene lands on the first tick and then runs alongside.
	if k == 1 && e.startFunc != nil && e.StartScene().Enabled {
		e.startFunc.assert(u)
		if !e.startFunc.IsRunning() {
			t.StartFunction(e.startFunc, true)
			e.startOwned = e.startFunc.IsRunning()
			if e.startOwned {
				e.startFunc.holdTargets()
			}
		}
	}

	cycleLen := uint64(max(e.busValue(e.FadeBus()), 1))
	pos := (uint64(k) - 1) % cycleLen
	cycle := (uint64(k) - 1) / cycleLen
	frac := float64(pos) / float64(cycleLen)

	s := e.shape()
	dir := e.Direction()
	ro := e.RunOrder()
	serial := e.Propagation() == Serial
	total := float64(len(e.targets))

	for _, tg := range e.targets {
		f := frac
		if serial {
			f = math.Mod(f+float64(tg.serial)/total, 1)
		}
		d := dir
		if tg.Direction == Backward {
			d = d.Reverse()
		}
		if ro == PingPong && cycle%2 == 1 {
			d = d.Reverse()
		}
		angle := 2 * math.Pi * f
		if d == Backward {
			angle = 2*math.Pi - angle
		}
		x, y := s.point(angle)
		writeAxis(u, tg.panMSB, tg.panLSB, x, universe.Pan)
		writeAxis(u, tg.tiltMSB, tg.tiltLSB, y, universe.Tilt)
	}

	if ro == SingleShot && uint64(k)%cycleLen == 0 {
		return false
	}
	return true
}

// writeAxis writes a 0..255 position. With a fine channel the coarse byte is
// the integer part and the fine byte carries the fraction.
func writeAxis(u *universe.Array, msb, lsb int, v float64, g universe.Group) {
	if msb < 0 {
		return
	}
	v = math.Max(0, math.Min(255, v))
	if lsb < 0 {
		u.Write(msb, uint8(roundHalfUp(v)), g)
		return
	}
	whole := math.Floor(v)
	u.Write(msb, uint8(whole), g)
	u.Write(lsb, uint8(math.Floor((v-whole)*255)), g)
}

// PostRun stops a start scene this run started and writes the stop scene
// once.
func (e *EFX) PostRun(t Timer, u *universe.Array) {
	e.finish(func() {
		e.armMu.Lock()
		start, owned, stop := e.startFunc, e.startOwned, e.stopFunc
		e.startOwned = false
		e.armMu.Unlock()
		if start != nil && owned {
			start.Stop()
		}
		if stop != nil && e.StopScene().Enabled {
			stop.assert(u)
		}
	})
}

func (e *EFX) CopyFrom(other Function) error {
	o, ok := other.(*EFX)
	if !ok {
		return ErrKindMismatch
	}
	if o == e {
		return nil
	}
	e.copyBase(&o.Base)
	o.mu.RLock()
	alg, prop := o.algorithm, o.propagation
	ints := [...]int{o.width, o.height, o.rotation, o.xOffset, o.yOffset, o.xFrequency, o.yFrequency, o.xPhase, o.yPhase}
	start, stop := o.startScene, o.stopScene
	fixtures := append([]EFXFixture(nil), o.fixtures...)
	o.mu.RUnlock()

	e.mu.Lock()
	e.algorithm, e.propagation = alg, prop
	e.width, e.height, e.rotation = ints[0], ints[1], ints[2]
	e.xOffset, e.yOffset = ints[3], ints[4]
	e.xFrequency, e.yFrequency = ints[5], ints[6]
	e.xPhase, e.yPhase = ints[7], ints[8]
	e.startScene, e.stopScene = start, stop
	e.fixtures = fixtures
	e.mu.Unlock()
	e.markStale()
	return nil
}

func (e *EFX) fixtureRemoved(id fixture.ID) {
	e.mu.Lock()
	kept := e.fixtures[:0]
	for _, f := range e.fixtures {
		if f.Fixture != id {
			kept = append(kept, f)
		}
	}
	e.fixtures = kept
	e.mu.Unlock()
	e.dropTarget(id)
}

func (e *EFX) dropTarget(id fixture.ID) {
	e.armMu.Lock()
	e.targets = slices.DeleteFunc(e.targets, func(tg efxTarget) bool { return tg.Fixture == id })
	e.armMu.Unlock()
}

func (e *EFX) functionRemoved(id ID) {
	e.mu.Lock()
	if e.startScene.ID == id {
		e.startScene = BoundaryScene{ID: InvalidID}
	}
	if e.stopScene.ID == id {
		e.stopScene = BoundaryScene{ID: InvalidID}
	}
	e.mu.Unlock()

	e.armMu.Lock()
	if e.startFunc != nil && e.startFunc.ID() == InvalidID {
		e.startFunc = nil
	}
	if e.stopFunc != nil && e.stopFunc.ID() == InvalidID {
		e.stopFunc = nil
	}
	e.armMu.Unlock()
}

func (e *EFX) logger() logx.Logger {
	if e.doc == nil {
		return logx.Nop()
	}
	return e.doc.log.With(logx.String("efx", e.Name()))
}
