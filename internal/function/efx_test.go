package function

import (
	"testing"

	"lightd/internal/bus"
	"lightd/internal/fixture"
)

func TestEFXSettersSaturate(t *testing.T) {
	t.Parallel()
	d := newTestDoc(t)
	e := NewEFX(d, "e")

	cases := []struct {
		name string
		set  func(int)
		get  func() int
		in   int
		want int
	}{
		{"width high", e.SetWidth, e.Width, 300, 127},
		{"width low", e.SetWidth, e.Width, -4, 0},
		{"height high", e.SetHeight, e.Height, 128, 127},
		{"rotation", e.SetRotation, e.Rotation, 400, 359},
		{"rotation edge", e.SetRotation, e.Rotation, 359, 359},
		{"x offset", e.SetXOffset, e.XOffset, 256, 255},
		{"y offset low", e.SetYOffset, e.YOffset, -1, 0},
		{"x phase", e.SetXPhase, e.XPhase, 360, 359},
		{"y phase", e.SetYPhase, e.YPhase, 720, 359},
		{"x frequency", e.SetXFrequency, e.XFrequency, 33, 32},
		{"y frequency", e.SetYFrequency, e.YFrequency, -2, 0},
	}
	for _, tc := range cases {
		tc.set(tc.in)
		if got := tc.get(); got != tc.want {
			t.Fatalf("%s: set %d got %d, want %d", tc.name, tc.in, got, tc.want)
		}
	}

	if ParseAlgorithm("spiral") != Circle {
		t.Fatal("unknown algorithm must map to Circle")
	}
	if ParseAlgorithm("lissajous") != Lissajous {
		t.Fatal("algorithm names are case-insensitive")
	}
}

var goldenCirclePreview = []Point{
	{127, 254}, {121, 254}, {115, 253}, {108, 253}, {102, 252}, {96, 250}, {90, 249}, {84, 247},
	{78, 244}, {73, 242}, {67, 239}, {62, 236}, {56, 233}, {51, 229}, {46, 225}, {42, 221},
	{37, 217}, {33, 212}, {29, 208}, {25, 203}, {21, 198}, {18, 192}, {15, 187}, {12, 181},
	{10, 176}, {7, 170}, {5, 164}, {4, 158}, {2, 152}, {1, 146}, {1, 139}, {0, 133},
	{0, 127}, {0, 121}, {1, 115}, {1, 108}, {2, 102}, {4, 96}, {5, 90}, {7, 84},
	{10, 78}, {12, 73}, {15, 67}, {18, 62}, {21, 56}, {25, 51}, {29, 46}, {33, 42},
	{37, 37}, {42, 33}, {46, 29}, {51, 25}, {56, 21}, {62, 18}, {67, 15}, {73, 12},
	{78, 10}, {84, 7}, {90, 5}, {96, 4}, {102, 2}, {108, 1}, {115, 1}, {121, 0},
	{127, 0}, {133, 0}, {139, 1}, {146, 1}, {152, 2}, {158, 4}, {164, 5}, {170, 7},
	{176, 10}, {181, 12}, {187, 15}, {192, 18}, {198, 21}, {203, 25}, {208, 29}, {212, 33},
	{217, 37}, {221, 42}, {225, 46}, {229, 51}, {233, 56}, {236, 62}, {239, 67}, {242, 73},
	{244, 78}, {247, 84}, {249, 90}, {250, 96}, {252, 102}, {253, 108}, {253, 115}, {254, 121},
	{254, 127}, {254, 133}, {253, 139}, {253, 146}, {252, 152}, {250, 158}, {249, 164}, {247, 170},
	{244, 176}, {242, 181}, {239, 187}, {236, 192}, {233, 198}, {229, 203}, {225, 208}, {221, 212},
	{217, 217}, {212, 221}, {208, 225}, {203, 229}, {198, 233}, {192, 236}, {187, 239}, {181, 242},
	{176, 244}, {170, 247}, {164, 249}, {158, 250}, {152, 252}, {146, 253}, {139, 253}, {133, 254},
}

func TestEFXDefaultPreviewGolden(t *testing.T) {
	t.Parallel()
	e := NewEFX(newTestDoc(t), "e")
	got := e.Preview(0)
	if len(got) != DefaultPreviewResolution {
		t.Fatalf("len = %d, want %d", len(got), DefaultPreviewResolution)
	}
	for i, p := range goldenCirclePreview {
		if got[i] != p {
			t.Fatalf("point %d = %v, want %v", i, got[i], p)
		}
	}
}

func TestEFXPreviewResolution(t *testing.T) {
	t.Parallel()
	e := NewEFX(newTestDoc(t), "e")
	for _, alg := range []Algorithm{Circle, Eight, Line, Diamond, Lissajous} {
		e.SetAlgorithm(alg)
		pts := e.Preview(64)
		if len(pts) != 64 {
			t.Fatalf("%s: len = %d", alg, len(pts))
		}
		for i, p := range pts {
			if p.X < 0 || p.X > 255 || p.Y < 0 || p.Y > 255 {
				t.Fatalf("%s point %d out of range: %v", alg, i, p)
			}
		}
	}
}

func TestEFXTargetList(t *testing.T) {
	t.Parallel()
	d := newTestDoc(t)
	e := NewEFX(d, "e")

	for _, id := range []fixture.ID{1, 2, 3, 2, 4} {
		e.AddFixture(EFXFixture{Fixture: id})
	}
	if got := e.Fixtures(); len(got) != 4 {
		t.Fatalf("duplicate add accepted: %+v", got)
	}
	if e.AddFixture(EFXFixture{Fixture: 3}) {
		t.Fatal("AddFixture(dup) = true")
	}
	if e.RemoveFixture(9) {
		t.Fatal("RemoveFixture(non-member) = true")
	}
	if e.RaiseFixture(1) {
		t.Fatal("RaiseFixture(first) = true")
	}
	if e.LowerFixture(4) {
		t.Fatal("LowerFixture(last) = true")
	}
	if !e.RaiseFixture(3) || !e.LowerFixture(1) {
		t.Fatal("raise/lower inside the list failed")
	}
	assertOrder(t, e, 3, 1, 2, 4)

	e.fixtureRemoved(1)
	assertOrder(t, e, 3, 2, 4)
}

func assertOrder(t *testing.T, e *EFX, ids ...fixture.ID) {
	t.Helper()
	got := e.Fixtures()
	if len(got) != len(ids) {
		t.Fatalf("Fixtures = %+v, want %v", got, ids)
	}
	for i, id := range ids {
		if got[i].Fixture != id {
			t.Fatalf("Fixtures = %+v, want %v", got, ids)
		}
	}
}

func TestEFXWritesPanTilt(t *testing.T) {
	t.Parallel()
	d := newTestDoc(t)
	fine := addMover(t, d, "16bit", 0)
	coarse := addMover(t, d, "8bit", 10)
	d.Buses().SetValue(bus.DefaultFade, 4)

	e := addFunction(t, d, NewEFX(d, "e"))
	e.SetRunOrder(SingleShot)
	e.AddFixture(EFXFixture{Fixture: fine.ID})
	e.AddFixture(EFXFixture{Fixture: coarse.ID})

	st := newStepTimer()
	st.StartFunction(e, false)
	st.tick()

	// angle 0: x = 127, y = 254
	if got := st.u.PreGM(0); got != 127 {
		t.Fatalf("pan coarse = %d, want 127", got)
	}
	if got := st.u.PreGM(1); got != 0 {
		t.Fatalf("pan fine = %d, want 0", got)
	}
	if got := st.u.PreGM(2); got != 254 {
		t.Fatalf("tilt coarse = %d, want 254", got)
	}
	if got := st.u.PreGM(10); got != 127 {
		t.Fatalf("8bit pan = %d, want 127", got)
	}
	if got := st.u.PreGM(11); got != 254 {
		t.Fatalf("8bit tilt = %d, want 254", got)
	}

	// quarter cycle: x = 0, y = 127
	st.tick()
	if got := st.u.PreGM(10); got != 0 {
		t.Fatalf("quarter pan = %d, want 0", got)
	}
	if got := st.u.PreGM(11); got != 127 {
		t.Fatalf("quarter tilt = %d, want 127", got)
	}

	st.tick()
	st.tick()
	if e.IsRunning() {
		t.Fatal("single-shot EFX still running after one cycle")
	}
}

func TestEFXSerialPropagation(t *testing.T) {
	t.Parallel()
	d := newTestDoc(t)
	a := addMover(t, d, "8bit", 0)
	b := addMover(t, d, "8bit", 2)
	d.Buses().SetValue(bus.DefaultFade, 4)

	e := addFunction(t, d, NewEFX(d, "e"))
	e.SetPropagation(Serial)
	e.AddFixture(EFXFixture{Fixture: a.ID})
	e.AddFixture(EFXFixture{Fixture: b.ID, Direction: Backward})

	st := newStepTimer()
	st.StartFunction(e, false)
	st.tick()

	// a at angle 0; b half a cycle ahead, reversed: angle pi.
	if x, y := st.u.PreGM(0), st.u.PreGM(1); x != 127 || y != 254 {
		t.Fatalf("a = (%d,%d), want (127,254)", x, y)
	}
	if x, y := st.u.PreGM(2), st.u.PreGM(3); x != 127 || y != 0 {
		t.Fatalf("b = (%d,%d), want (127,0)", x, y)
	}
}

func TestEFXBoundaryScenes(t *testing.T) {
	t.Parallel()
	d := newTestDoc(t)
	mover := addMover(t, d, "16bit", 0)

	start := addFunction(t, d, NewScene(d, "start"))
	start.SetValue(SceneValue{Fixture: mover.ID, Channel: 4, Value: 255})
	stop := addFunction(t, d, NewScene(d, "stop"))
	stop.SetValue(SceneValue{Fixture: mover.ID, Channel: 0, Value: 10})

	e := addFunction(t, d, NewEFX(d, "e"))
	e.AddFixture(EFXFixture{Fixture: mover.ID})
	e.SetStartScene(BoundaryScene{ID: start.ID(), Enabled: true})
	e.SetStopScene(BoundaryScene{ID: stop.ID(), Enabled: true})

	st := newStepTimer()
	st.StartFunction(e, false)
	st.tick()
	if got := st.u.PreGM(4); got != 255 {
		t.Fatalf("dimmer on first tick = %d, want 255", got)
	}
	if !start.IsRunning() || !start.IsChained() {
		t.Fatal("start scene not started chained on first tick")
	}
	st.tick()
	if got := st.u.PreGM(4); got != 255 {
		t.Fatalf("dimmer on second tick = %d, want 255", got)
	}

	e.Stop()
	st.tick()
	if e.IsRunning() {
		t.Fatal("EFX still running")
	}
	if got := st.u.PreGM(0); got != 10 {
		t.Fatalf("pan after stop scene = %d, want 10", got)
	}
	if stop.IsRunning() {
		t.Fatal("stop scene must be written once, not started")
	}

	st.tick()
	if start.IsRunning() {
		t.Fatal("start scene outlived the EFX")
	}
	if got := st.u.PreGM(4); got != 0 {
		t.Fatalf("dimmer after EFX stop = %d, want 0", got)
	}

	d.DeleteFunction(stop.ID())
	if got := e.StopScene(); got.ID != InvalidID {
		t.Fatalf("stop scene after delete = %+v", got)
	}
}

func TestEFXLeavesForeignStartSceneRunning(t *testing.T) {
	t.Parallel()
	d := newTestDoc(t)
	mover := addMover(t, d, "16bit", 0)
	start := addFunction(t, d, NewScene(d, "start"))
	start.SetValue(SceneValue{Fixture: mover.ID, Channel: 4, Value: 200})

	e := addFunction(t, d, NewEFX(d, "e"))
	e.AddFixture(EFXFixture{Fixture: mover.ID})
	e.SetStartScene(BoundaryScene{ID: start.ID(), Enabled: true})

	st := newStepTimer()
	st.StartFunction(start, false)
	st.StartFunction(e, false)
	st.tick()
	e.Stop()
	st.tick()
	st.tick()
	if !start.IsRunning() {
		t.Fatal("EFX stopped a scene it did not start")
	}
}

func TestEFXEditedAfterArm(t *testing.T) {
	t.Parallel()
	d := newTestDoc(t)
	d.SetMode(Operate)
	mover := addMover(t, d, "8bit", 0)
	d.Buses().SetValue(bus.DefaultFade, 4)

	e := addFunction(t, d, NewEFX(d, "e"))
	e.AddFixture(EFXFixture{Fixture: mover.ID})

	st := newStepTimer()
	st.StartFunction(e, false)
	st.tick()
	if x, y := st.u.PreGM(0), st.u.PreGM(1); x != 127 || y != 254 {
		t.Fatalf("pan/tilt = (%d,%d), want (127,254)", x, y)
	}
	if !e.IsRunning() {
		t.Fatal("EFX stopped on its first tick")
	}

	e.RemoveFixture(mover.ID)
	st.u.Reset()
	st.tick()
	if x := st.u.PreGM(0); x != 0 {
		t.Fatalf("removed target still written: pan = %d", x)
	}
}

func TestEFXCopyFrom(t *testing.T) {
	t.Parallel()
	d := newTestDoc(t)
	src := NewEFX(d, "src")
	src.SetAlgorithm(Lissajous)
	src.SetWidth(40)
	src.SetYPhase(45)
	src.SetPropagation(Serial)
	src.AddFixture(EFXFixture{Fixture: 5, Direction: Backward})

	dst := NewEFX(d, "dst")
	if err := dst.CopyFrom(src); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if dst.Algorithm() != Lissajous || dst.Width() != 40 || dst.YPhase() != 45 || dst.Propagation() != Serial {
		t.Fatal("config not copied")
	}
	if fs := dst.Fixtures(); len(fs) != 1 || fs[0].Direction != Backward {
		t.Fatalf("fixtures = %+v", fs)
	}
	if err := dst.CopyFrom(NewScene(d, "s")); err != ErrKindMismatch {
		t.Fatalf("CopyFrom(scene) = %v", err)
	}
}
