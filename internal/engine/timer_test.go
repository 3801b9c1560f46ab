package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"lightd/internal/bus"
	"lightd/internal/fixture"
	"lightd/internal/function"
	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

type buffer struct {
	mu sync.Mutex
	u  *universe.Array
}

func newBuffer() *buffer { return &buffer{u: universe.New(1)} }

func (b *buffer) Claim() *universe.Array {
	b.mu.Lock()
	return b.u
}

func (b *buffer) Release(*universe.Array) { b.mu.Unlock() }

func (b *buffer) value(addr int) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.u.PreGM(addr)
}

type countingWriter struct{ n int }

func (w *countingWriter) WriteDMX(function.Timer, *universe.Array) { w.n++ }

func setup(t *testing.T) (*MasterTimer, *buffer, *function.Doc, *function.Scene) {
	t.Helper()
	d := function.NewDoc(bus.New(50, nil), nil, logx.Nop())
	fx := fixture.NewGeneric("dim", 0, 0, 2)
	if _, err := d.AddFixture(fx, fixture.InvalidID); err != nil {
		t.Fatal(err)
	}
	s := function.NewScene(d, "s")
	s.SetValue(function.SceneValue{Fixture: fx.ID, Channel: 0, Value: 255})
	if _, err := d.AddFunction(s, function.InvalidID); err != nil {
		t.Fatal(err)
	}
	buf := newBuffer()
	return New(Config{}, buf, logx.Nop()), buf, d, s
}

func TestStartFunctionNoDuplicates(t *testing.T) {
	t.Parallel()
	m, _, _, s := setup(t)

	m.StartFunction(nil, false)
	m.StartFunction(s, false)
	m.StartFunction(s, true)
	if n := len(m.RunningFunctions()); n != 1 {
		t.Fatalf("running = %d, want 1", n)
	}
	if s.IsChained() {
		t.Fatal("second start changed the chained flag")
	}
	if !s.IsRunning() {
		t.Fatal("PreRun not called")
	}
}

func TestStartFunctionRefusesFlashing(t *testing.T) {
	t.Parallel()
	m, _, _, s := setup(t)

	s.Flash(m)
	m.StartFunction(s, false)
	if s.IsRunning() || len(m.RunningFunctions()) != 0 {
		t.Fatal("flashing scene was started")
	}
	s.UnFlash(m)
	m.StartFunction(s, false)
	if !s.IsRunning() {
		t.Fatal("scene not started after unflash")
	}
}

func TestStoppedFunctionRemovedOnNextTick(t *testing.T) {
	t.Parallel()
	m, buf, _, s := setup(t)

	m.StartFunction(s, false)
	m.Tick()
	if buf.value(0) != 255 {
		t.Fatalf("channel 0 = %d, want 255", buf.value(0))
	}

	s.Stop()
	if n := len(m.RunningFunctions()); n != 1 {
		t.Fatal("function removed before its next tick")
	}
	if !s.IsRunning() {
		t.Fatal("PostRun ran outside a tick")
	}
	m.Tick()
	if n := len(m.RunningFunctions()); n != 0 {
		t.Fatalf("running = %d after reaping tick", n)
	}
	if s.IsRunning() {
		t.Fatal("PostRun not called")
	}
	if m.Ticks() != 2 {
		t.Fatalf("Ticks = %d", m.Ticks())
	}
}

func TestRegisterWriterIdempotent(t *testing.T) {
	t.Parallel()
	m, _, _, _ := setup(t)
	w := &countingWriter{}
	m.RegisterWriter(w)
	m.RegisterWriter(w)
	m.RegisterWriter(nil)
	if m.WriterCount() != 1 {
		t.Fatalf("WriterCount = %d, want 1", m.WriterCount())
	}
	m.Tick()
	if w.n != 1 {
		t.Fatalf("writer called %d times", w.n)
	}
	m.UnregisterWriter(w)
	m.UnregisterWriter(w)
	if m.WriterCount() != 0 {
		t.Fatal("writer not removed")
	}
}

func TestStopAllKeepsWriters(t *testing.T) {
	t.Parallel()
	m, _, d, s := setup(t)
	other := function.NewEFX(d, "e")
	if _, err := d.AddFunction(other, function.InvalidID); err != nil {
		t.Fatal(err)
	}
	w := &countingWriter{}
	m.RegisterWriter(w)
	m.StartFunction(s, false)
	m.StartFunction(other, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.StopAllFunctions(ctx); err != nil {
		t.Fatalf("StopAllFunctions: %v", err)
	}
	if n := len(m.RunningFunctions()); n != 0 {
		t.Fatalf("running = %d", n)
	}
	if s.IsRunning() || other.IsRunning() {
		t.Fatal("functions not finalized")
	}
	if m.WriterCount() != 1 {
		t.Fatal("raw writer dropped by StopAllFunctions")
	}
}

func TestWriteMayStartOthers(t *testing.T) {
	t.Parallel()
	m, _, d, s := setup(t)
	c := function.NewChaser(d, "c")
	if _, err := d.AddFunction(c, function.InvalidID); err != nil {
		t.Fatal(err)
	}
	c.AddStep(s.ID())

	m.StartFunction(c, false)
	m.Tick()
	if !s.IsRunning() || !s.IsChained() {
		t.Fatal("chaser step not started chained from inside Write")
	}
	if n := len(m.RunningFunctions()); n != 2 {
		t.Fatalf("running = %d, want 2", n)
	}
}

func TestLoopTicksAndStopFinalizes(t *testing.T) {
	t.Parallel()
	m, _, _, s := setup(t)

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	m.StartFunction(s, false)

	deadline := time.Now().Add(2 * time.Second)
	for m.Ticks() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Ticks() < 3 {
		t.Fatal("loop is not ticking")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Fatal("enqueued function not finalized by Stop")
	}
	if len(m.RunningFunctions()) != 0 || m.IsRunning() {
		t.Fatal("Stop left state behind")
	}
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStopAllWithLoopRunning(t *testing.T) {
	t.Parallel()
	m, _, _, s := setup(t)
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(ctx)

	m.StartFunction(s, false)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.StopAllFunctions(waitCtx); err != nil {
		t.Fatalf("StopAllFunctions: %v", err)
	}
	if s.IsRunning() {
		t.Fatal("scene still running")
	}
}

func TestFrequencyBounds(t *testing.T) {
	t.Parallel()
	if f := New(Config{}, nil, logx.Nop()).Frequency(); f != DefaultFrequency {
		t.Fatalf("default = %d", f)
	}
	if f := New(Config{Frequency: 5000}, nil, logx.Nop()).Frequency(); f != MaxFrequency {
		t.Fatalf("clamped = %d", f)
	}
}
