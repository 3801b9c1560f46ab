package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"lightd/internal/bus"
	"lightd/internal/fixture"
	"lightd/internal/function"
	logx "lightd/pkg/logx"
)

const moverYAML = `
manufacturer: Acme
model: Mover
modes:
  - name: 16bit
    channels:
      - {name: Pan, group: pan}
      - {name: Pan fine, group: pan, byte: fine}
      - {name: Tilt, group: tilt}
      - {name: Tilt fine, group: tilt, byte: fine}
`

const showYAML = `
version: 1
buses:
  - {id: 0, name: Fade, value: 25}
  - {id: 40, value: 1}
fixtures:
  - {id: 0, name: Dimmer 1, universe: 0, address: 0, channels: 6}
  - {id: 1, name: Spot, manufacturer: Acme, model: Mover, mode: 16bit, universe: 0, address: 10}
  - {id: 2, name: Ghost, manufacturer: Nobody, model: X, universe: 0, address: 30}
  - {id: 3, name: Overflow, universe: 0, address: 510, channels: 6}
functions:
  - type: Scene
    id: 0
    name: Warm
    bus: [{role: fade, id: 0}]
    direction: Forward
    run_order: SingleShot
    values:
      - {fixture: 0, channel: 0, value: 255}
      - {fixture: 0, channel: 0, value: 12}
      - {fixture: 0, channel: 1, value: 300}
  - type: EFX
    name: Circle
    propagation: Serial
    algorithm: Circle
    width: 200
    height: 100
    rotation: 45
    start_scene: {id: 0, enabled: true}
    stop_scene: {id: 0, enabled: false}
    axes:
      x: {offset: 127, frequency: 2, phase: 90}
      y: {offset: 100, frequency: 3, phase: 0}
    fixtures: [{id: 1, direction: Forward}, {id: 1, direction: Backward}]
  - type: Chaser
    id: 2
    name: Seq
    bus: [{role: fade, id: 0}, {role: hold, id: 1}]
    steps: [0, 2, 0]
  - type: Collection
    id: 3
    name: All
    members: [0, 1]
  - type: Laser
    name: Nope
  - type: Scene
    id: 0
    name: Clash
  - "not a mapping"
`

func newDoc(t *testing.T) *function.Doc {
	t.Helper()
	return function.NewDoc(bus.New(50, nil), nil, logx.Nop())
}

func catalog(t *testing.T) *fixture.Catalog {
	t.Helper()
	def, err := fixture.ParseDef([]byte(moverYAML))
	if err != nil {
		t.Fatal(err)
	}
	return fixture.NewCatalog(def)
}

func TestDecodeSkipsBadElements(t *testing.T) {
	t.Parallel()
	d := newDoc(t)
	rep, err := Decode([]byte(showYAML), d, Options{Universes: 1, Catalog: catalog(t)})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Buses != 1 || rep.Fixtures != 2 || rep.Functions != 4 {
		t.Fatalf("report = %+v", rep)
	}
	// bus 40, Ghost, Overflow, Laser, Clash, scalar
	if rep.Skipped != 6 {
		t.Fatalf("skipped = %d: %v", rep.Skipped, rep.Diagnostics)
	}
	if d.Buses().Value(bus.DefaultFade) != 25 {
		t.Fatal("bus value not loaded")
	}

	warm, ok := d.Function(0).(*function.Scene)
	if !ok || warm.Name() != "Warm" || warm.RunOrder() != function.SingleShot {
		t.Fatalf("function 0 = %v", d.Function(0))
	}
	if v := warm.Values(); len(v) != 1 || v[0].Value != 255 {
		t.Fatalf("scene values = %+v, want first occurrence only", v)
	}

	seq := d.Function(2).(*function.Chaser)
	if got := seq.Steps(); !reflect.DeepEqual(got, []function.ID{0}) {
		t.Fatalf("steps = %v, want self and duplicate dropped", got)
	}
	if seq.HoldBus() != 1 {
		t.Fatalf("hold bus = %d", seq.HoldBus())
	}

	e := d.FunctionByName("Circle").(*function.EFX)
	if e.ID() == 0 || e.ID() == 2 || e.ID() == 3 {
		t.Fatalf("auto id %d collides with an explicit one", e.ID())
	}
	if e.Width() != 127 || e.Height() != 100 || e.Rotation() != 45 || e.YOffset() != 100 {
		t.Fatalf("efx params w=%d h=%d r=%d", e.Width(), e.Height(), e.Rotation())
	}
	if e.Propagation() != function.Serial || len(e.Fixtures()) != 1 {
		t.Fatal("efx propagation or targets wrong")
	}
	if s := e.StartScene(); s.ID != 0 || !s.Enabled {
		t.Fatalf("start scene = %+v", s)
	}
}

func TestDecodeSaturatesEFXParameters(t *testing.T) {
	t.Parallel()
	const show = `
version: 1
functions:
  - type: EFX
    name: Wide
    width: 300
    rotation: 400
    axes:
      x: {offset: 256, phase: 400}
      y: {offset: -3}
`
	d := newDoc(t)
	rep, err := Decode([]byte(show), d, Options{})
	if err != nil {
		t.Fatal(err)
	}
	e := d.FunctionByName("Wide").(*function.EFX)
	got := []int{e.Width(), e.Rotation(), e.XOffset(), e.XPhase(), e.YOffset()}
	if want := []int{127, 359, 255, 359, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("width/rotation/xoffset/xphase/yoffset = %v, want %v", got, want)
	}
	if rep.Skipped != 0 || len(rep.Diagnostics) != 5 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestDecodeRejectsFutureVersionAndGarbage(t *testing.T) {
	t.Parallel()
	if _, err := Decode([]byte("version: 2\n"), newDoc(t), Options{}); !errors.Is(err, ErrVersion) {
		t.Fatalf("err = %v", err)
	}
	if _, err := Decode([]byte("buses: {\n"), newDoc(t), Options{}); err == nil {
		t.Fatal("broken yaml accepted")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	src := newDoc(t)
	if _, err := Decode([]byte(showYAML), src, Options{Universes: 1, Catalog: catalog(t)}); err != nil {
		t.Fatal(err)
	}
	src.Buses().SetName(5, "Strobe")

	path := filepath.Join(t.TempDir(), "show", "main.yaml")
	if err := Save(path, src); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}

	dst := newDoc(t)
	rep, err := Load(path, dst, Options{Universes: 1, Catalog: catalog(t)})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped != 0 {
		t.Fatalf("round trip skipped: %v", rep.Diagnostics)
	}
	a, _ := Encode(src)
	b, _ := Encode(dst)
	if string(a) != string(b) {
		t.Fatalf("round trip differs:\n%s\n---\n%s", a, b)
	}
	if dst.Buses().Name(5) != "Strobe" {
		t.Fatal("bus name lost")
	}
	if !strings.Contains(string(a), "manufacturer: Acme") {
		t.Fatal("catalog fixture saved without its model")
	}
}
