package function

import (
	"slices"
	"testing"

	"lightd/internal/bus"
	"lightd/internal/fixture"
	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

// stepTimer drives functions tick by tick the same way the engine does.
type stepTimer struct {
	u       *universe.Array
	fns     []Function
	writers []Writer
}

func newStepTimer() *stepTimer { return &stepTimer{u: universe.New(1)} }

func (st *stepTimer) StartFunction(f Function, chained bool) {
	if f == nil || f.IsRunning() || f.IsFlashing() || slices.Contains(st.fns, f) {
		return
	}
	f.Arm()
	f.SetChained(chained)
	f.PreRun(st)
	st.fns = append(st.fns, f)
}

func (st *stepTimer) RegisterWriter(w Writer) {
	if !slices.Contains(st.writers, w) {
		st.writers = append(st.writers, w)
	}
}

func (st *stepTimer) UnregisterWriter(w Writer) {
	st.writers = slices.DeleteFunc(st.writers, func(x Writer) bool { return x == w })
}

func (st *stepTimer) Frequency() int { return 50 }

func (st *stepTimer) tick() {
	st.u.ZeroIntensityChannels()
	for _, w := range slices.Clone(st.writers) {
		w.WriteDMX(st, st.u)
	}
	var done []Function
	for _, f := range slices.Clone(st.fns) {
		if !f.Write(st, st.u) {
			done = append(done, f)
		}
	}
	st.fns = slices.DeleteFunc(st.fns, func(f Function) bool { return slices.Contains(done, f) })
	for _, f := range done {
		f.PostRun(st, st.u)
	}
}

func newTestDoc(t *testing.T) *Doc {
	t.Helper()
	return NewDoc(bus.New(50, nil), nil, logx.Nop())
}

func addDimmer(t *testing.T, d *Doc, channels, address int) *fixture.Fixture {
	t.Helper()
	f := fixture.NewGeneric("dimmer", 0, address, channels)
	if _, err := d.AddFixture(f, fixture.InvalidID); err != nil {
		t.Fatalf("AddFixture: %v", err)
	}
	return f
}

var moverDef = &fixture.Def{
	Manufacturer: "Acme",
	Model:        "Mover",
	Modes: []fixture.Mode{
		{Name: "16bit", Channels: []fixture.Channel{
			{Name: "Pan", Group: universe.Pan},
			{Name: "Pan fine", Group: universe.Pan, Byte: fixture.LSB},
			{Name: "Tilt", Group: universe.Tilt},
			{Name: "Tilt fine", Group: universe.Tilt, Byte: fixture.LSB},
			{Name: "Dimmer", Group: universe.Intensity},
		}},
		{Name: "8bit", Channels: []fixture.Channel{
			{Name: "Pan", Group: universe.Pan},
			{Name: "Tilt", Group: universe.Tilt},
		}},
	},
}

func addMover(t *testing.T, d *Doc, mode string, address int) *fixture.Fixture {
	t.Helper()
	f, err := fixture.New("mover", moverDef, mode, 0, address)
	if err != nil {
		t.Fatalf("fixture.New: %v", err)
	}
	if _, err := d.AddFixture(f, fixture.InvalidID); err != nil {
		t.Fatalf("AddFixture: %v", err)
	}
	return f
}

func addFunction[T Function](t *testing.T, d *Doc, f T) T {
	t.Helper()
	if _, err := d.AddFunction(f, InvalidID); err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	return f
}
