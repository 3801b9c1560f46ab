package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"lightd/internal/function"
)

// Encode renders doc in workspace format.
func Encode(doc *function.Doc) ([]byte, error) {
	f := file{Version: Version}

	reg := doc.Buses()
	for _, b := range reg.Snapshot() {
		r := busRec{ID: intp(int(b.ID)), Name: b.Name, Value: int64(b.Value)}
		if err := appendNode(&f.Buses, r); err != nil {
			return nil, err
		}
	}

	for _, fx := range doc.Fixtures() {
		r := fixtureRec{
			ID:       intp(int(fx.ID)),
			Name:     fx.Name,
			Universe: fx.Universe,
			Address:  fx.Address,
		}
		if fx.IsGeneric() {
			r.Channels = fx.ChannelCount()
		} else {
			r.Manufacturer, r.Model, r.Mode = fx.Manufacturer, fx.Model, fx.Mode
		}
		if err := appendNode(&f.Fixtures, r); err != nil {
			return nil, err
		}
	}

	for _, fn := range doc.Functions() {
		if err := appendNode(&f.Functions, functionRecord(fn)); err != nil {
			return nil, err
		}
	}
	return yaml.Marshal(&f)
}

func appendNode(dst *[]yaml.Node, v any) error {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return fmt.Errorf("encode workspace element: %w", err)
	}
	*dst = append(*dst, n)
	return nil
}

func functionRecord(fn function.Function) functionRec {
	r := functionRec{
		Type:      fn.Kind().String(),
		ID:        intp(int(fn.ID())),
		Name:      fn.Name(),
		Direction: fn.Direction().String(),
		RunOrder:  fn.RunOrder().String(),
		Bus:       []busRef{{Role: "fade", ID: int64(fn.FadeBus())}},
	}
	switch f := fn.(type) {
	case *function.Scene:
		for _, v := range f.Values() {
			r.Values = append(r.Values, valueRec{Fixture: int64(v.Fixture), Channel: v.Channel, Value: int(v.Value)})
		}
	case *function.EFX:
		r.Algorithm = f.Algorithm().String()
		r.Propagation = f.Propagation().String()
		r.Width, r.Height, r.Rotation = intp(f.Width()), intp(f.Height()), intp(f.Rotation())
		r.Axes = &axesRec{
			X: axisRec{Offset: intp(f.XOffset()), Frequency: intp(f.XFrequency()), Phase: intp(f.XPhase())},
			Y: axisRec{Offset: intp(f.YOffset()), Frequency: intp(f.YFrequency()), Phase: intp(f.YPhase())},
		}
		r.StartScene = boundaryRecord(f.StartScene())
		r.StopScene = boundaryRecord(f.StopScene())
		for _, t := range f.Fixtures() {
			r.Fixtures = append(r.Fixtures, efxFixtureRec{ID: int64(t.Fixture), Direction: t.Direction.String()})
		}
	case *function.Chaser:
		r.Bus = append(r.Bus, busRef{Role: "hold", ID: int64(f.HoldBus())})
		for _, s := range f.Steps() {
			r.Steps = append(r.Steps, int64(s))
		}
	case *function.Collection:
		for _, m := range f.Members() {
			r.Members = append(r.Members, int64(m))
		}
	}
	return r
}

func boundaryRecord(b function.BoundaryScene) *boundaryRec {
	if b.ID == function.InvalidID {
		return nil
	}
	return &boundaryRec{ID: int64(b.ID), Enabled: b.Enabled}
}

// Save writes doc to path atomically: a temp file in the same directory is
// synced and renamed over the target.
func Save(path string, doc *function.Doc) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
