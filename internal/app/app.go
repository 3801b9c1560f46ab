package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"lightd/internal/bus"
	"lightd/internal/config"
	"lightd/internal/engine"
	"lightd/internal/eventbus"
	"lightd/internal/fixture"
	"lightd/internal/function"
	"lightd/internal/observability/debughttp"
	"lightd/internal/output"
	"lightd/internal/output/artnet"
	"lightd/internal/output/loopback"
	"lightd/internal/runtime/supervisor"
	"lightd/internal/storage"
	"lightd/internal/tapin"
	"lightd/internal/trigger"
	"lightd/internal/workspace"
	logx "lightd/pkg/logx"
	"lightd/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log    logx.Logger
	logs   *logx.Service
	events eventbus.Bus
	store  storage.Store
	rec    *storage.Recorder

	doc      *function.Doc
	out      *output.Map
	loop     *loopback.Adapter
	timer    *engine.MasterTimer
	triggers *trigger.Service
	tap      *tapin.Listener
	debug    *debughttp.Service

	started time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Components tag their own comp field on root.
	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	events := eventbus.New()
	buses := bus.New(cfg.FrequencyHz(), events)
	doc := function.NewDoc(buses, events, root)

	catalog, err := fixture.LoadCatalog(cfg.Workspace.CatalogDir, root.With(logx.String("comp", "catalog")))
	if err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(cfg.Workspace.Path); path != "" {
		rep, err := workspace.Load(path, doc, workspace.Options{
			Universes: cfg.Universes(),
			Catalog:   catalog,
			Log:       root,
		})
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Warn("workspace not found; starting empty", logx.String("path", path))
		case err != nil:
			return nil, err
		default:
			log.Info("workspace loaded",
				logx.String("path", path),
				logx.Int("fixtures", rep.Fixtures),
				logx.Int("functions", rep.Functions),
				logx.Int("skipped", rep.Skipped),
			)
		}
	}
	doc.SetMode(function.Operate)

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		events: events,
		doc:    doc,
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		// Persisted bus values win over the workspace.
		n, err := storage.Restore(context.Background(), st, buses)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("restore bus values: %w", err)
		}
		a.store = st
		a.rec = storage.NewRecorder(st, events, root)
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.Int("restored_buses", n))
	}

	a.out = output.NewMap(output.Config{Universes: cfg.Universes(), RateHz: cfg.OutputRateHz()}, root)
	a.loop = loopback.New(0)
	if err := a.out.RegisterAdapter(a.loop); err != nil {
		return nil, err
	}
	if ac := cfg.Output.ArtNet; ac != nil {
		an, err := artnet.New(mapArtNetConfig(ac), root)
		if err != nil {
			return nil, err
		}
		if err := a.out.RegisterAdapter(an); err != nil {
			return nil, err
		}
	}
	a.out.SetGrandMaster(cfg.GrandMasterSettings())

	a.timer = engine.New(engine.Config{Frequency: cfg.FrequencyHz()}, a.out, root)

	a.triggers = trigger.New(trigger.Config{Timezone: cfg.Timezone}, a.timer, doc, root)
	if err := a.triggers.Apply(cfg.TriggerDefs()); err != nil {
		return nil, err
	}

	if cfg.Tap.Enabled {
		a.tap = tapin.New(mapTapConfig(cfg.Tap), buses, root)
	}

	dc, err := mapDebugConfig(cfg.Debug)
	if err != nil {
		return nil, err
	}
	a.debug = debughttp.New(dc, func() any { return a.Status() }, root)

	return a, nil
}

func (a *App) Doc() *function.Doc            { return a.doc }
func (a *App) Timer() *engine.MasterTimer    { return a.timer }
func (a *App) Output() *output.Map           { return a.out }
func (a *App) Loopback() *loopback.Adapter   { return a.loop }
func (a *App) Triggers() *trigger.Service    { return a.triggers }
func (a *App) Config() *config.ConfigManager { return a.cfgm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// StartFunction starts the named function (or numeric id) from an operator
// surface such as the command line.
func (a *App) StartFunction(ref string) error {
	ref = strings.TrimSpace(ref)
	fn := a.doc.FunctionByName(ref)
	if fn == nil {
		if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
			fn = a.doc.Function(function.ID(id))
		}
	}
	if fn == nil {
		return fmt.Errorf("unknown function %q", ref)
	}
	a.timer.StartFunction(fn, false)
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(a.validateReload)

	for _, p := range cfg.Output.Patch {
		uni := cfg.PatchUniverse(p)
		if err := a.out.SetPatch(uni, strings.ToLower(strings.TrimSpace(p.Adapter)), cfg.PatchLine(p)); err != nil {
			return fmt.Errorf("patch universe %d: %w", p.Universe, err)
		}
	}

	if a.rec != nil {
		a.sup.Go("storage.recorder", a.rec.Run)
	}
	if err := a.out.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.timer.Start(a.sup.Context()); err != nil {
		return err
	}
	a.triggers.Start(a.sup.Context())
	if a.tap != nil {
		// Tap tempo is optional; a missing MIDI device never stops the show.
		if err := a.tap.Start(a.sup.Context()); err != nil {
			a.log.Warn("tap input unavailable", logx.Err(err))
		}
	}
	a.debug.Start(a.sup.Context())

	events, unsub := a.events.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if cfg.Systemd.Notify {
		if _, err := systemd.Ready(); err != nil {
			a.log.Warn("sd_notify ready failed", logx.Err(err))
		}
		if iv := systemd.WatchdogInterval(); iv > 0 {
			a.log.Info("systemd watchdog enabled", logx.Duration("interval", iv))
			a.sup.Go("systemd.watchdog", func(c context.Context) error {
				return systemd.Watchdog(c, iv, a.timer.IsRunning)
			})
		}
	}

	a.log.Info("app started",
		logx.Int("hz", a.timer.Frequency()),
		logx.Int("universes", a.out.Universes()),
		logx.Int("functions", len(a.doc.Functions())),
	)
	return nil
}

func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	// Trigger schedules must parse with the cron parser, not only the shorthand.
	probe := trigger.New(trigger.Config{Timezone: cfg.Timezone}, nil, nil, logx.Nop())
	if err := probe.Apply(cfg.TriggerDefs()); err != nil {
		return err
	}
	_, err := mapDebugConfig(cfg.Debug)
	return err
}

// applyConfig applies the hot-reloadable sections of newCfg.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.out.SetGrandMaster(newCfg.GrandMasterSettings())

	if err := a.triggers.Apply(newCfg.TriggerDefs()); err != nil {
		a.log.Warn("invalid triggers; keeping previous", logx.Err(err))
	}
	a.triggers.SetTimezone(ctx, newCfg.Timezone)

	if dc, err := mapDebugConfig(newCfg.Debug); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if cfg := a.cfgm.Get(); cfg != nil && cfg.Systemd.Notify {
		_, _ = systemd.Stopping()
	}

	// Triggers and taps first so nothing starts while the engine winds down.
	step := a.stepper(ctx)
	step("triggers", time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	step("tap", time.Second, func(context.Context) error {
		if a.tap != nil {
			a.tap.Stop()
		}
		return nil
	})
	// The engine finalizes running functions; output then flushes and closes lines.
	step("engine", 2*time.Second, a.timer.Stop)
	step("output", 2*time.Second, func(c context.Context) error {
		derr := a.out.Dispatch()
		return errors.Join(derr, a.out.Stop(c))
	})
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stepper runs shutdown steps with an upper bound so one component can't
// stall the whole stop.
func (a *App) stepper(ctx context.Context) func(name string, limit time.Duration, fn func(context.Context) error) {
	return func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; report when a step overstays.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name),
					logx.Duration("took", time.Since(start)),
					logx.Err(err),
				)
			}()
		}
	}
}
