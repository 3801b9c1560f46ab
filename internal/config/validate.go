package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lightd/internal/bus"
	"lightd/internal/output/artnet"
	"lightd/internal/output/loopback"
	"lightd/internal/trigger"
	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

const (
	DefaultFrequencyHz = 50
	DefaultUniverses   = 4
	MaxUniverses       = 64
)

// Universes is the configured universe count with the default applied.
func (c *Config) Universes() int {
	if c.Engine.Universes <= 0 {
		return DefaultUniverses
	}
	return c.Engine.Universes
}

// FrequencyHz is the tick rate with the default applied.
func (c *Config) FrequencyHz() int {
	if c.Engine.FrequencyHz <= 0 {
		return DefaultFrequencyHz
	}
	return c.Engine.FrequencyHz
}

// GrandMasterSettings resolves the grand master section. Call Validate first;
// unparseable modes fall back to intensity/reduce.
func (c *Config) GrandMasterSettings() (universe.GMChannelMode, universe.GMValueMode, uint8) {
	ch, _ := universe.ParseGMChannelMode(c.GrandMaster.Channels)
	mode, _ := universe.ParseGMValueMode(c.GrandMaster.Mode)
	v := 255
	if c.GrandMaster.Value != nil {
		v = min(max(*c.GrandMaster.Value, 0), 255)
	}
	return ch, mode, uint8(v)
}

// PatchUniverse maps a configured patch universe to a zero-based index.
func (c *Config) PatchUniverse(p PatchConfig) int {
	if c.Output.OneBased {
		return p.Universe - 1
	}
	return p.Universe
}

// PatchLine maps a configured adapter line to a zero-based index.
func (c *Config) PatchLine(p PatchConfig) int {
	if c.Output.OneBased {
		return p.Line - 1
	}
	return p.Line
}

// OutputRateHz is the dispatch rate; it follows the engine frequency unless set.
func (c *Config) OutputRateHz() int {
	if c.Output.RateHz <= 0 {
		return c.FrequencyHz()
	}
	return c.Output.RateHz
}

// TriggerDefs converts the trigger section. Call Validate first; invalid
// actions become start.
func (c *Config) TriggerDefs() []trigger.Def {
	out := make([]trigger.Def, 0, len(c.Triggers))
	for _, t := range c.Triggers {
		a, _ := trigger.ParseAction(t.Action)
		out = append(out, trigger.Def{
			Name:     strings.TrimSpace(t.Name),
			Schedule: t.Schedule,
			Function: strings.TrimSpace(t.Function),
			Action:   a,
		})
	}
	return out
}

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if f := cfg.Engine.FrequencyHz; f < 0 || f > 1000 {
		add("engine.frequency_hz: %d out of range 1..1000", f)
	}
	if u := cfg.Engine.Universes; u < 0 || u > MaxUniverses {
		add("engine.universes: %d out of range 1..%d", u, MaxUniverses)
	}

	if _, ok := universe.ParseGMChannelMode(cfg.GrandMaster.Channels); !ok {
		add("grand_master.channels: want intensity or all, got %q", cfg.GrandMaster.Channels)
	}
	if _, ok := universe.ParseGMValueMode(cfg.GrandMaster.Mode); !ok {
		add("grand_master.mode: want reduce or limit, got %q", cfg.GrandMaster.Mode)
	}
	if v := cfg.GrandMaster.Value; v != nil && (*v < 0 || *v > 255) {
		add("grand_master.value: %d out of range 0..255", *v)
	}

	if r := cfg.Output.RateHz; r < 0 || r > 1000 {
		add("output.rate_hz: %d out of range", r)
	}
	if a := cfg.Output.ArtNet; a != nil {
		if _, err := artnet.New(artnet.Config{
			Target:       a.Target,
			Port:         a.Port,
			BaseUniverse: a.BaseUniverse,
			Lines:        a.Lines,
		}, logx.Nop()); err != nil {
			add("output.artnet: %w", err)
		}
	}
	seen := map[int]bool{}
	for i, p := range cfg.Output.Patch {
		uni := cfg.PatchUniverse(p)
		if uni < 0 || uni >= cfg.Universes() {
			add("output.patch[%d]: universe %d out of range", i, p.Universe)
		} else if seen[uni] {
			add("output.patch[%d]: universe %d patched twice", i, p.Universe)
		}
		seen[uni] = true
		switch strings.ToLower(strings.TrimSpace(p.Adapter)) {
		case loopback.Name:
		case artnet.Name:
			if cfg.Output.ArtNet == nil {
				add("output.patch[%d]: artnet adapter is not configured", i)
			}
		default:
			add("output.patch[%d]: unknown adapter %q", i, p.Adapter)
		}
		if cfg.PatchLine(p) < 0 {
			add("output.patch[%d]: line %d out of range", i, p.Line)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("timezone: %w", err)
		}
	}
	names := map[string]bool{}
	for i, t := range cfg.Triggers {
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			add("triggers[%d]: name is required", i)
		case names[name]:
			add("triggers[%d]: duplicate name %q", i, name)
		}
		names[name] = true
		if strings.TrimSpace(t.Function) == "" {
			add("triggers[%d]: function is required", i)
		}
		if _, err := trigger.ParseSchedule(t.Schedule); err != nil {
			add("triggers[%d]: %w", i, err)
		}
		if _, ok := trigger.ParseAction(t.Action); !ok {
			add("triggers[%d]: unknown action %q", i, t.Action)
		}
	}

	if cfg.Tap.Enabled {
		if cfg.Tap.Note < 0 || cfg.Tap.Note > 127 {
			add("tap.note: %d out of range 0..127", cfg.Tap.Note)
		}
		if cfg.Tap.Channel < 0 || cfg.Tap.Channel > 16 {
			add("tap.channel: %d out of range 1..16", cfg.Tap.Channel)
		}
		if !bus.ID(cfg.Tap.Bus).Valid() || cfg.Tap.Bus < 0 {
			add("tap.bus: %d out of range", cfg.Tap.Bus)
		}
	}

	for _, d := range []struct{ path, raw string }{
		{"debug.read_timeout", cfg.Debug.ReadTimeout},
		{"debug.write_timeout", cfg.Debug.WriteTimeout},
		{"debug.idle_timeout", cfg.Debug.IdleTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
