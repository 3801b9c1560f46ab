// Package output owns the shared buffer between ticks and forwards its
// post-grand-master frames to hardware adapters through a patch table.
package output

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lightd/internal/runtime/supervisor"
	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

// Adapter is one output plugin. Lines are zero-based indexes into Outputs.
type Adapter interface {
	Name() string
	Outputs() []string
	Open(line int) error
	Close(line int) error
	Write(line int, frame []byte) error
}

// Patch routes one universe to an adapter line.
type Patch struct {
	Adapter string `json:"adapter"`
	Line    int    `json:"line"`
}

var (
	ErrUnknownAdapter = errors.New("output: unknown adapter")
	ErrBadLine        = errors.New("output: line out of range")
	ErrBadUniverse    = errors.New("output: universe out of range")
)

type Config struct {
	Universes int
	RateHz    int
}

type Map struct {
	log logx.Logger

	mu  sync.Mutex // held from Claim to Release
	arr *universe.Array

	pmu      sync.RWMutex
	adapters map[string]Adapter
	patches  []Patch

	rate   int
	errs   *logx.Throttle
	frames [][]byte
	sent   atomic.Uint64

	lifeMu sync.Mutex
	sup    *supervisor.Supervisor
}

func NewMap(cfg Config, log logx.Logger) *Map {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Universes <= 0 {
		cfg.Universes = 1
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = 50
	}
	m := &Map{
		log:      log.With(logx.String("comp", "output")),
		arr:      universe.New(cfg.Universes),
		adapters: map[string]Adapter{},
		patches:  make([]Patch, cfg.Universes),
		rate:     cfg.RateHz,
		errs:     logx.NewThrottle(5 * time.Second),
		frames:   make([][]byte, cfg.Universes),
	}
	for i := range m.frames {
		m.frames[i] = make([]byte, universe.Channels)
	}
	return m
}

func (m *Map) Universes() int { return len(m.patches) }

// Claim locks the buffer for one tick.
func (m *Map) Claim() *universe.Array {
	m.mu.Lock()
	return m.arr
}

func (m *Map) Release(*universe.Array) { m.mu.Unlock() }

func (m *Map) SetGrandMaster(ch universe.GMChannelMode, mode universe.GMValueMode, value uint8) {
	m.mu.Lock()
	m.arr.SetGrandMaster(ch, mode, value)
	m.mu.Unlock()
	m.log.Info("grand master changed", logx.String("channels", ch.String()), logx.String("mode", mode.String()), logx.Int("value", int(value)))
}

func (m *Map) GrandMaster() (universe.GMChannelMode, universe.GMValueMode, uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arr.GrandMaster()
}

// Frame returns a copy of one universe's post-grand-master values.
func (m *Map) Frame(uni int) []byte {
	out := make([]byte, universe.Channels)
	m.mu.Lock()
	m.arr.CopyFrame(uni, out)
	m.mu.Unlock()
	return out
}

func (m *Map) RegisterAdapter(a Adapter) error {
	if a == nil {
		return fmt.Errorf("register adapter: nil")
	}
	m.pmu.Lock()
	defer m.pmu.Unlock()
	if _, ok := m.adapters[a.Name()]; ok {
		return fmt.Errorf("register adapter %q: already registered", a.Name())
	}
	m.adapters[a.Name()] = a
	return nil
}

func (m *Map) Adapters() []string {
	m.pmu.RLock()
	defer m.pmu.RUnlock()
	out := make([]string, 0, len(m.adapters))
	for n := range m.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SetPatch routes uni to line of the named adapter, opening the line. The
// previous line is closed once no universe uses it.
func (m *Map) SetPatch(uni int, adapter string, line int) error {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	if uni < 0 || uni >= len(m.patches) {
		return fmt.Errorf("patch universe %d: %w", uni, ErrBadUniverse)
	}
	a, ok := m.adapters[adapter]
	if !ok {
		return fmt.Errorf("patch universe %d: %q: %w", uni, adapter, ErrUnknownAdapter)
	}
	if line < 0 || line >= len(a.Outputs()) {
		return fmt.Errorf("patch universe %d: %s line %d: %w", uni, adapter, line, ErrBadLine)
	}
	next := Patch{Adapter: adapter, Line: line}
	prev := m.patches[uni]
	if prev == next {
		return nil
	}
	if err := a.Open(line); err != nil {
		return fmt.Errorf("open %s line %d: %w", adapter, line, err)
	}
	m.patches[uni] = next
	m.closeUnusedLocked(prev)
	m.log.Info("universe patched", logx.Int("universe", uni), logx.String("adapter", adapter), logx.Int("line", line))
	return nil
}

func (m *Map) Unpatch(uni int) {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	if uni < 0 || uni >= len(m.patches) {
		return
	}
	prev := m.patches[uni]
	m.patches[uni] = Patch{}
	m.closeUnusedLocked(prev)
}

func (m *Map) closeUnusedLocked(p Patch) {
	if p.Adapter == "" {
		return
	}
	for _, q := range m.patches {
		if q == p {
			return
		}
	}
	if a, ok := m.adapters[p.Adapter]; ok {
		if err := a.Close(p.Line); err != nil {
			m.log.Warn("close output line failed", logx.String("adapter", p.Adapter), logx.Int("line", p.Line), logx.Err(err))
		}
	}
}

func (m *Map) Patch(uni int) (Patch, bool) {
	m.pmu.RLock()
	defer m.pmu.RUnlock()
	if uni < 0 || uni >= len(m.patches) || m.patches[uni].Adapter == "" {
		return Patch{}, false
	}
	return m.patches[uni], true
}

// Dispatch copies every patched universe between ticks and writes it to its
// adapter. It returns the joined write errors.
func (m *Map) Dispatch() error {
	m.pmu.RLock()
	defer m.pmu.RUnlock()

	m.mu.Lock()
	for uni, p := range m.patches {
		if p.Adapter != "" {
			m.arr.CopyFrame(uni, m.frames[uni])
		}
	}
	m.mu.Unlock()

	var errs []error
	for uni, p := range m.patches {
		if p.Adapter == "" {
			continue
		}
		if err := m.adapters[p.Adapter].Write(p.Line, m.frames[uni]); err != nil {
			errs = append(errs, fmt.Errorf("universe %d -> %s line %d: %w", uni, p.Adapter, p.Line, err))
		}
	}
	m.sent.Add(1)
	return errors.Join(errs...)
}

// Dispatched is the number of completed dispatch passes.
func (m *Map) Dispatched() uint64 { return m.sent.Load() }

// Start launches the dispatch loop at the configured rate.
func (m *Map) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.sup != nil {
		return nil
	}
	m.sup = supervisor.New(ctx, supervisor.WithLogger(m.log))
	m.sup.GoRestart("output.dispatch", m.loop)
	m.log.Info("output dispatch started", logx.Int("hz", m.rate), logx.Int("universes", len(m.patches)))
	return nil
}

func (m *Map) loop(ctx context.Context) error {
	tk := time.NewTicker(time.Second / time.Duration(m.rate))
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			if err := m.Dispatch(); err != nil {
				if ok, suppressed := m.errs.Allow(); ok {
					m.log.Warn("output write failed", logx.Err(err), logx.Uint64("suppressed", suppressed))
				}
			}
		}
	}
}

// Stop ends the dispatch loop and closes every patched line.
func (m *Map) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	sup := m.sup
	m.sup = nil
	m.lifeMu.Unlock()

	var err error
	if sup != nil {
		if err = sup.Stop(ctx); errors.Is(err, context.Canceled) {
			err = nil
		}
	}

	m.pmu.Lock()
	seen := map[Patch]bool{}
	for _, p := range m.patches {
		if p.Adapter == "" || seen[p] {
			continue
		}
		seen[p] = true
		if cerr := m.adapters[p.Adapter].Close(p.Line); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	for i := range m.patches {
		m.patches[i] = Patch{}
	}
	m.pmu.Unlock()
	return err
}
