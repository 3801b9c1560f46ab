// Package trigger starts and stops functions on cron or interval schedules.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lightd/internal/function"
	logx "lightd/pkg/logx"
)

type Action int

const (
	ActionStart Action = iota
	ActionStop
	ActionToggle
)

var actionNames = [...]string{"start", "stop", "toggle"}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// ParseAction accepts start, stop or toggle; empty means start.
func ParseAction(s string) (Action, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ActionStart, true
	}
	for i, n := range actionNames {
		if n == s {
			return Action(i), true
		}
	}
	return 0, false
}

// Def is one configured trigger. Function is a function name or a numeric id.
type Def struct {
	Name     string
	Schedule string
	Function string
	Action   Action
}

// Runner is the part of the scheduler a trigger drives.
type Runner interface {
	StartFunction(f function.Function, chained bool)
	StopFunction(f function.Function)
}

// Lookup resolves trigger targets at fire time.
type Lookup interface {
	Function(id function.ID) function.Function
	FunctionByName(name string) function.Function
}

type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means local
}

var ErrUnknownTrigger = errors.New("trigger: unknown trigger")

// Info describes one registered trigger.
type Info struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Function string    `json:"function"`
	Action   string    `json:"action"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
	Fires    uint64    `json:"fires"`
	Misses   uint64    `json:"misses"`
}

type entry struct {
	def     Def
	sched   Schedule
	entryID cron.EntryID
	fires   uint64
	misses  uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	run    Runner
	lookup Lookup

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]*entry
}

func New(cfg Config, run Runner, lookup Lookup, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "trigger")),
		run:    run,
		lookup: lookup,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]*entry{},
	}
}

// Apply replaces every trigger. It validates all defs first; on error the
// current set stays untouched.
func (s *Service) Apply(defs []Def) error {
	next := make(map[string]*entry, len(defs))
	for _, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return errors.New("trigger name required")
		}
		if _, dup := next[name]; dup {
			return fmt.Errorf("trigger %q: duplicate name", name)
		}
		if strings.TrimSpace(d.Function) == "" {
			return fmt.Errorf("trigger %q: function required", name)
		}
		sch, err := ParseSchedule(d.Schedule)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", name, err)
		}
		if _, err := s.parser.Parse(sch.Spec); err != nil {
			return fmt.Errorf("trigger %q: %w", name, err)
		}
		d.Name = name
		next[name] = &entry{def: d, sched: sch}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		for _, e := range s.entries {
			s.c.Remove(e.entryID)
		}
	}
	s.entries = next
	if s.c != nil {
		for _, e := range s.entries {
			s.addLocked(e)
		}
	}
	s.log.Info("triggers applied", logx.Int("count", len(next)))
	return nil
}

// Start begins firing. It is a no-op when already started.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.location()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, e := range s.entries {
		s.addLocked(e)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("triggers", len(s.entries)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// SetTimezone changes the schedule location. A running service restarts so
// next run times are recomputed.
func (s *Service) SetTimezone(ctx context.Context, tz string) {
	tz = strings.TrimSpace(tz)
	s.mu.Lock()
	same := strings.TrimSpace(s.cfg.Timezone) == tz
	s.cfg.Timezone = tz
	running := s.c != nil
	s.mu.Unlock()
	if same || !running {
		return
	}
	s.Stop(ctx)
	s.Start(ctx)
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) addLocked(e *entry) {
	name := e.def.Name
	id, err := s.c.AddFunc(e.sched.Spec, func() { _ = s.Fire(name) })
	if err != nil {
		s.log.Error("trigger register failed", logx.String("name", name), logx.String("spec", e.sched.Spec), logx.Err(err))
		return
	}
	e.entryID = id
	s.log.Debug("trigger registered", logx.String("name", name), logx.String("spec", e.sched.Spec), logx.String("action", e.def.Action.String()))
}

// Fire runs the named trigger's action now.
func (s *Service) Fire(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
	}
	def := e.def
	s.mu.Unlock()

	f := s.resolve(def.Function)

	s.mu.Lock()
	if f == nil {
		e.misses++
	} else {
		e.fires++
	}
	s.mu.Unlock()

	if f == nil {
		s.log.Warn("trigger target not found", logx.String("name", name), logx.String("function", def.Function))
		return fmt.Errorf("trigger %q: function %q not found", name, def.Function)
	}
	switch def.Action {
	case ActionStart:
		s.run.StartFunction(f, false)
	case ActionStop:
		s.run.StopFunction(f)
	case ActionToggle:
		if f.IsRunning() {
			s.run.StopFunction(f)
		} else {
			s.run.StartFunction(f, false)
		}
	}
	s.log.Debug("trigger fired", logx.String("name", name), logx.String("function", f.Name()), logx.String("action", def.Action.String()))
	return nil
}

func (s *Service) resolve(ref string) function.Function {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.ParseUint(ref, 10, 32); err == nil {
		if f := s.lookup.Function(function.ID(n)); f != nil {
			return f
		}
	}
	return s.lookup.FunctionByName(ref)
}

// Snapshot lists triggers sorted by name.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		in := Info{
			Name:     e.def.Name,
			Schedule: e.sched.Spec,
			Function: e.def.Function,
			Action:   e.def.Action.String(),
			Fires:    e.fires,
			Misses:   e.misses,
		}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			in.Next, in.Prev = ce.Next, ce.Prev
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
