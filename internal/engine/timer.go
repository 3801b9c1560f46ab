// Package engine runs functions at a fixed tick rate against the shared
// output buffer.
package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"lightd/internal/function"
	"lightd/internal/runtime/supervisor"
	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

const (
	DefaultFrequency = 50
	MaxFrequency     = 1000
)

// Claimer hands the buffer to the engine for one tick. Claim blocks until
// the buffer is free; Release gives it back to output dispatch.
type Claimer interface {
	Claim() *universe.Array
	Release(u *universe.Array)
}

type Config struct {
	Frequency int
}

// MasterTimer is the scheduler. fnMu and wMu guard the two lists; neither
// is held across a Write call and they are never held together, so a
// running function may start or stop others from inside Write.
type MasterTimer struct {
	log  logx.Logger
	out  Claimer
	freq int

	fnMu      sync.Mutex
	functions []function.Function
	closing   bool

	wMu     sync.Mutex
	writers []function.Writer

	ticks   atomic.Uint64
	overrun *logx.Throttle

	lifeMu  sync.Mutex
	sup     *supervisor.Supervisor
	running atomic.Bool
}

func New(cfg Config, out Claimer, log logx.Logger) *MasterTimer {
	if log.IsZero() {
		log = logx.Nop()
	}
	freq := cfg.Frequency
	if freq <= 0 {
		freq = DefaultFrequency
	}
	if freq > MaxFrequency {
		freq = MaxFrequency
	}
	return &MasterTimer{
		log:     log.With(logx.String("comp", "engine")),
		out:     out,
		freq:    freq,
		overrun: logx.NewThrottle(5 * time.Second),
	}
}

func (m *MasterTimer) Frequency() int { return m.freq }

func (m *MasterTimer) Period() time.Duration { return time.Second / time.Duration(m.freq) }

// Ticks is the number of completed ticks since creation.
func (m *MasterTimer) Ticks() uint64 { return m.ticks.Load() }

func (m *MasterTimer) IsRunning() bool { return m.running.Load() }

// Start launches the tick loop. Calling it again while running is a no-op.
func (m *MasterTimer) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.sup != nil {
		return nil
	}
	m.sup = supervisor.New(ctx, supervisor.WithLogger(m.log))
	m.running.Store(true)
	m.sup.GoRestart("engine.tick", m.loop, supervisor.WithRestartBackoff(m.Period(), time.Second))
	m.log.Info("engine started", logx.Int("hz", m.freq))
	return nil
}

// Stop ends the tick loop, waits for it, then empties both lists. Functions
// still enqueued are finalized so their running flag stays truthful.
func (m *MasterTimer) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	sup := m.sup
	m.sup = nil
	m.lifeMu.Unlock()

	var err error
	if sup != nil {
		err = sup.Stop(ctx)
		m.running.Store(false)
	}

	m.fnMu.Lock()
	m.closing = true
	left := m.functions
	m.functions = nil
	m.fnMu.Unlock()

	m.wMu.Lock()
	m.writers = nil
	m.wMu.Unlock()

	if len(left) > 0 && m.out != nil {
		u := m.out.Claim()
		for _, f := range left {
			f.Stop()
			f.PostRun(m, u)
		}
		m.out.Release(u)
	}

	m.fnMu.Lock()
	m.closing = false
	m.fnMu.Unlock()

	if sup != nil {
		m.log.Info("engine stopped", logx.Uint64("ticks", m.ticks.Load()), logx.Int("finalized", len(left)))
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (m *MasterTimer) loop(ctx context.Context) error {
	tk := time.NewTicker(m.Period())
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			m.Tick()
		}
	}
}

// StartFunction arms, prepares and enqueues f. A nil, running or flashing
// function is ignored.
func (m *MasterTimer) StartFunction(f function.Function, chained bool) {
	if f == nil {
		return
	}
	m.fnMu.Lock()
	defer m.fnMu.Unlock()
	if m.closing || f.IsRunning() || f.IsFlashing() || slices.Contains(m.functions, f) {
		return
	}
	f.Arm()
	f.SetChained(chained)
	f.PreRun(m)
	m.functions = append(m.functions, f)
}

// StopFunction asks f to stop; the next tick reaps it.
func (m *MasterTimer) StopFunction(f function.Function) {
	if f != nil {
		f.Stop()
	}
}

// RunningFunctions returns the enqueued functions in start order.
func (m *MasterTimer) RunningFunctions() []function.Function {
	m.fnMu.Lock()
	defer m.fnMu.Unlock()
	return slices.Clone(m.functions)
}

func (m *MasterTimer) RegisterWriter(w function.Writer) {
	if w == nil {
		return
	}
	m.wMu.Lock()
	defer m.wMu.Unlock()
	if !slices.Contains(m.writers, w) {
		m.writers = append(m.writers, w)
	}
}

func (m *MasterTimer) UnregisterWriter(w function.Writer) {
	m.wMu.Lock()
	defer m.wMu.Unlock()
	m.writers = slices.DeleteFunc(m.writers, func(x function.Writer) bool { return x == w })
}

func (m *MasterTimer) WriterCount() int {
	m.wMu.Lock()
	defer m.wMu.Unlock()
	return len(m.writers)
}

// StopAllFunctions stops every running function and waits until all of them
// have been reaped. Raw writers stay registered. When the tick loop is not
// running the caller's goroutine does the reaping.
func (m *MasterTimer) StopAllFunctions(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		tk   *time.Ticker
		seen []function.Function
	)
	for i := 0; ; i++ {
		fns := m.RunningFunctions()
		seen = append(seen, fns...)
		if len(fns) == 0 && !slices.ContainsFunc(seen, function.Function.IsRunning) {
			return nil
		}
		for _, f := range fns {
			f.Stop()
		}
		if !m.running.Load() {
			if i > 64 {
				return errors.New("engine: functions keep restarting")
			}
			m.Tick()
			continue
		}
		if tk == nil {
			tk = time.NewTicker(m.Period())
			defer tk.Stop()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
		}
	}
}

// Tick runs one scheduler cycle: claim, zero intensity, raw writers,
// functions in start order, reap finished functions, release.
func (m *MasterTimer) Tick() {
	if m.out == nil {
		return
	}
	started := time.Now()
	u := m.out.Claim()
	defer m.out.Release(u)

	u.ZeroIntensityChannels()

	m.wMu.Lock()
	writers := slices.Clone(m.writers)
	m.wMu.Unlock()
	for _, w := range writers {
		w.WriteDMX(m, u)
	}

	m.fnMu.Lock()
	fns := slices.Clone(m.functions)
	m.fnMu.Unlock()

	var done []function.Function
	for _, f := range fns {
		if !f.Write(m, u) {
			done = append(done, f)
		}
	}
	if len(done) > 0 {
		m.fnMu.Lock()
		m.functions = slices.DeleteFunc(m.functions, func(f function.Function) bool {
			return slices.Contains(done, f)
		})
		m.fnMu.Unlock()
		for _, f := range done {
			f.PostRun(m, u)
		}
	}

	m.ticks.Add(1)
	if took := time.Since(started); took > m.Period() {
		if ok, suppressed := m.overrun.Allow(); ok {
			m.log.Warn("tick overrun", logx.Duration("took", took), logx.Duration("period", m.Period()), logx.Uint64("suppressed", suppressed))
		}
	}
}
