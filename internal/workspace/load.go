// Package workspace reads and writes the show file: buses, patched
// fixtures and functions. Malformed elements are skipped one by one; the
// rest of the file still loads.
package workspace

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"lightd/internal/bus"
	"lightd/internal/fixture"
	"lightd/internal/function"
	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

var ErrVersion = errors.New("workspace: unsupported version")

// Report counts what a Load accepted and lists every skipped element.
type Report struct {
	Buses       int      `json:"buses"`
	Fixtures    int      `json:"fixtures"`
	Functions   int      `json:"functions"`
	Skipped     int      `json:"skipped"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

type Options struct {
	// Universes bounds fixture patching; 0 disables the check.
	Universes int
	Catalog   *fixture.Catalog
	Log       logx.Logger
}

type loader struct {
	doc  *function.Doc
	opts Options
	log  logx.Logger
	rep  Report
}

// Load reads path into doc. A file that cannot be read or parsed at all is
// an error; individual bad elements are reported and skipped.
func Load(path string, doc *function.Doc, opts Options) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read workspace: %w", err)
	}
	return Decode(data, doc, opts)
}

func Decode(data []byte, doc *function.Doc, opts Options) (Report, error) {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Report{}, fmt.Errorf("parse workspace: %w", err)
	}
	if f.Version > Version {
		return Report{}, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}

	l := &loader{doc: doc, opts: opts, log: log.With(logx.String("comp", "workspace"))}
	for i := range f.Buses {
		l.bus(&f.Buses[i])
	}
	for i := range f.Fixtures {
		l.fixture(&f.Fixtures[i])
	}

	// Explicit ids first so auto-assigned ones cannot take them.
	var auto []pending
	for i := range f.Functions {
		if p, ok := l.decodeFunction(&f.Functions[i]); ok {
			if p.id == function.InvalidID {
				auto = append(auto, p)
				continue
			}
			l.addFunction(p)
		}
	}
	for _, p := range auto {
		l.addFunction(p)
	}

	l.log.Info("workspace loaded",
		logx.Int("buses", l.rep.Buses),
		logx.Int("fixtures", l.rep.Fixtures),
		logx.Int("functions", l.rep.Functions),
		logx.Int("skipped", l.rep.Skipped),
	)
	return l.rep, nil
}

// skip drops a whole element.
func (l *loader) skip(n *yaml.Node, format string, args ...any) {
	l.rep.Skipped++
	l.note(n, format, args...)
}

// note records a problem inside an element that still loads.
func (l *loader) note(n *yaml.Node, format string, args ...any) {
	msg := fmt.Sprintf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
	l.rep.Diagnostics = append(l.rep.Diagnostics, msg)
	l.log.Warn("workspace diagnostic", logx.String("detail", msg))
}

func (l *loader) bus(n *yaml.Node) {
	var r busRec
	if err := n.Decode(&r); err != nil {
		l.skip(n, "bus: %v", err)
		return
	}
	if r.ID == nil || !bus.ID(*r.ID).Valid() || *r.ID < 0 {
		l.skip(n, "bus: id missing or out of range")
		return
	}
	if r.Value < 0 || r.Value > math.MaxUint32 {
		l.skip(n, "bus %d: value %d out of range", *r.ID, r.Value)
		return
	}
	reg := l.doc.Buses()
	if r.Name != "" {
		reg.SetName(bus.ID(*r.ID), r.Name)
	}
	reg.SetValue(bus.ID(*r.ID), uint32(r.Value))
	l.rep.Buses++
}

func (l *loader) fixture(n *yaml.Node) {
	var r fixtureRec
	if err := n.Decode(&r); err != nil {
		l.skip(n, "fixture: %v", err)
		return
	}
	if r.Universe < 0 || (l.opts.Universes > 0 && r.Universe >= l.opts.Universes) {
		l.skip(n, "fixture %q: universe %d out of range", r.Name, r.Universe)
		return
	}

	var fx *fixture.Fixture
	switch {
	case r.Manufacturer != "" || r.Model != "":
		if l.opts.Catalog == nil {
			l.skip(n, "fixture %q: no catalog for %s %s", r.Name, r.Manufacturer, r.Model)
			return
		}
		def, ok := l.opts.Catalog.Lookup(r.Manufacturer, r.Model)
		if !ok {
			l.skip(n, "fixture %q: %s %s not in catalog", r.Name, r.Manufacturer, r.Model)
			return
		}
		var err error
		if fx, err = fixture.New(r.Name, def, r.Mode, r.Universe, r.Address); err != nil {
			l.skip(n, "fixture %q: %v", r.Name, err)
			return
		}
	default:
		if r.Channels < 1 || r.Channels > universe.Channels {
			l.skip(n, "fixture %q: channel count %d out of range", r.Name, r.Channels)
			return
		}
		fx = fixture.NewGeneric(r.Name, r.Universe, r.Address, r.Channels)
	}
	if r.Address < 0 || r.Address+fx.ChannelCount() > universe.Channels {
		l.skip(n, "fixture %q: address %d does not fit %d channels", r.Name, r.Address, fx.ChannelCount())
		return
	}

	id := fixture.InvalidID
	if r.ID != nil {
		if *r.ID < 0 {
			l.skip(n, "fixture %q: negative id", r.Name)
			return
		}
		id = fixture.ID(*r.ID)
	}
	if _, err := l.doc.AddFixture(fx, id); err != nil {
		l.skip(n, "fixture %q: %v", r.Name, err)
		return
	}
	l.rep.Fixtures++
}

type pending struct {
	node *yaml.Node
	fn   function.Function
	id   function.ID
}

func (l *loader) decodeFunction(n *yaml.Node) (pending, bool) {
	var r functionRec
	if err := n.Decode(&r); err != nil {
		l.skip(n, "function: %v", err)
		return pending{}, false
	}
	kind, ok := function.ParseKind(r.Type)
	if !ok {
		l.skip(n, "function %q: unknown type %q", r.Name, r.Type)
		return pending{}, false
	}
	id := function.InvalidID
	if r.ID != nil {
		if *r.ID < 0 || *r.ID >= function.FunctionCapacity {
			l.skip(n, "function %q: id %d out of range", r.Name, *r.ID)
			return pending{}, false
		}
		id = function.ID(*r.ID)
	}

	f := l.doc.NewFunction(kind, r.Name)
	l.common(n, f, &r)
	switch fn := f.(type) {
	case *function.Scene:
		l.scene(n, fn, &r)
	case *function.EFX:
		l.efx(n, fn, &r)
	case *function.Chaser:
		for _, s := range r.Steps {
			if s < 0 || s >= function.FunctionCapacity || !fn.AddStep(function.ID(s)) {
				l.note(n, "chaser %q: step %d rejected", r.Name, s)
			}
		}
	case *function.Collection:
		for _, m := range r.Members {
			if m < 0 || m >= function.FunctionCapacity || !fn.AddMember(function.ID(m)) {
				l.note(n, "collection %q: member %d rejected", r.Name, m)
			}
		}
	}
	return pending{node: n, fn: f, id: id}, true
}

func (l *loader) addFunction(p pending) {
	if _, err := l.doc.AddFunction(p.fn, p.id); err != nil {
		l.skip(p.node, "function %q: %v", p.fn.Name(), err)
		return
	}
	// Self references are only detectable once the id is known.
	switch fn := p.fn.(type) {
	case *function.Chaser:
		if fn.RemoveStep(fn.ID()) {
			l.note(p.node, "chaser %q: self step removed", fn.Name())
		}
	case *function.Collection:
		if fn.RemoveMember(fn.ID()) {
			l.note(p.node, "collection %q: self member removed", fn.Name())
		}
	}
	l.rep.Functions++
}

func (l *loader) common(n *yaml.Node, f function.Function, r *functionRec) {
	if r.Direction != "" {
		if d, ok := function.ParseDirection(r.Direction); ok {
			f.SetDirection(d)
		} else {
			l.note(n, "function %q: unknown direction %q", r.Name, r.Direction)
		}
	}
	if r.RunOrder != "" {
		if ro, ok := function.ParseRunOrder(r.RunOrder); ok {
			f.SetRunOrder(ro)
		} else {
			l.note(n, "function %q: unknown run order %q", r.Name, r.RunOrder)
		}
	}
	for _, b := range r.Bus {
		if b.ID < 0 || !bus.ID(b.ID).Valid() {
			l.note(n, "function %q: bus %d out of range", r.Name, b.ID)
			continue
		}
		switch strings.ToLower(b.Role) {
		case "fade":
			f.SetFadeBus(bus.ID(b.ID))
		case "hold":
			if c, ok := f.(*function.Chaser); ok {
				c.SetHoldBus(bus.ID(b.ID))
				continue
			}
			l.note(n, "function %q: hold bus on a %s", r.Name, f.Kind())
		default:
			l.note(n, "function %q: unknown bus role %q", r.Name, b.Role)
		}
	}
}

func (l *loader) scene(n *yaml.Node, s *function.Scene, r *functionRec) {
	for _, v := range r.Values {
		if v.Fixture < 0 || v.Fixture >= function.FixtureCapacity || v.Channel < 0 || v.Value < 0 || v.Value > 255 {
			l.note(n, "scene %q: value %+v out of range", r.Name, v)
			continue
		}
		fx := fixture.ID(v.Fixture)
		if _, dup := s.Value(fx, v.Channel); dup {
			l.note(n, "scene %q: duplicate value for fixture %d channel %d", r.Name, v.Fixture, v.Channel)
			continue
		}
		s.SetValue(function.SceneValue{Fixture: fx, Channel: v.Channel, Value: uint8(v.Value)})
	}
}

func (l *loader) efx(n *yaml.Node, e *function.EFX, r *functionRec) {
	if r.Algorithm != "" {
		e.SetAlgorithm(function.ParseAlgorithm(r.Algorithm))
	}
	if r.Propagation != "" {
		if p, ok := function.ParsePropagation(r.Propagation); ok {
			e.SetPropagation(p)
		} else {
			l.note(n, "efx %q: unknown propagation %q", r.Name, r.Propagation)
		}
	}
	set := func(name string, v *int, hi int, apply func(int)) {
		if v == nil {
			return
		}
		if *v < 0 || *v > hi {
			l.note(n, "efx %q: %s %d saturated to 0..%d", r.Name, name, *v, hi)
		}
		apply(*v)
	}
	set("width", r.Width, function.MaxEFXSize, e.SetWidth)
	set("height", r.Height, function.MaxEFXSize, e.SetHeight)
	set("rotation", r.Rotation, function.MaxEFXRotation, e.SetRotation)
	if a := r.Axes; a != nil {
		set("x offset", a.X.Offset, function.MaxEFXOffset, e.SetXOffset)
		set("x frequency", a.X.Frequency, function.MaxEFXFrequency, e.SetXFrequency)
		set("x phase", a.X.Phase, function.MaxEFXPhase, e.SetXPhase)
		set("y offset", a.Y.Offset, function.MaxEFXOffset, e.SetYOffset)
		set("y frequency", a.Y.Frequency, function.MaxEFXFrequency, e.SetYFrequency)
		set("y phase", a.Y.Phase, function.MaxEFXPhase, e.SetYPhase)
	}
	if b := r.StartScene; b != nil {
		e.SetStartScene(boundary(b))
	}
	if b := r.StopScene; b != nil {
		e.SetStopScene(boundary(b))
	}
	for _, t := range r.Fixtures {
		dir := function.Forward
		if t.Direction != "" {
			d, ok := function.ParseDirection(t.Direction)
			if !ok {
				l.note(n, "efx %q: fixture %d: unknown direction %q", r.Name, t.ID, t.Direction)
				continue
			}
			dir = d
		}
		if t.ID < 0 || t.ID >= function.FixtureCapacity || !e.AddFixture(function.EFXFixture{Fixture: fixture.ID(t.ID), Direction: dir}) {
			l.note(n, "efx %q: fixture %d rejected", r.Name, t.ID)
		}
	}
}

func boundary(b *boundaryRec) function.BoundaryScene {
	if b.ID < 0 || b.ID >= function.FunctionCapacity {
		return function.BoundaryScene{ID: function.InvalidID}
	}
	return function.BoundaryScene{ID: function.ID(b.ID), Enabled: b.Enabled}
}
