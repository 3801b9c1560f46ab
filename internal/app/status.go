package app

import (
	"time"

	"lightd/internal/bus"
	"lightd/internal/runtime/supervisor"
	"lightd/internal/trigger"
)

// Status is served at /debug/engine.
type Status struct {
	Uptime      string              `json:"uptime"`
	Running     bool                `json:"running"`
	FrequencyHz int                 `json:"frequency_hz"`
	Ticks       uint64              `json:"ticks"`
	Functions   []RunningFunction   `json:"functions"`
	Writers     int                 `json:"writers"`
	Frames      uint64              `json:"frames_dispatched"`
	GrandMaster GrandMasterStatus   `json:"grand_master"`
	Buses       []bus.Info          `json:"buses"`
	Triggers    []trigger.Info      `json:"triggers"`
	Supervisor  supervisor.Counters `json:"supervisor"`
}

type RunningFunction struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type GrandMasterStatus struct {
	Channels string `json:"channels"`
	Mode     string `json:"mode"`
	Value    uint8  `json:"value"`
}

func (a *App) Status() Status {
	st := Status{
		Running:     a.timer.IsRunning(),
		FrequencyHz: a.timer.Frequency(),
		Ticks:       a.timer.Ticks(),
		Writers:     a.timer.WriterCount(),
		Frames:      a.out.Dispatched(),
		Buses:       a.doc.Buses().Snapshot(),
		Triggers:    a.triggers.Snapshot(),
	}
	if !a.started.IsZero() {
		st.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	for _, f := range a.timer.RunningFunctions() {
		st.Functions = append(st.Functions, RunningFunction{ID: uint32(f.ID()), Name: f.Name(), Kind: f.Kind().String()})
	}
	ch, mode, v := a.out.GrandMaster()
	st.GrandMaster = GrandMasterStatus{Channels: ch.String(), Mode: mode.String(), Value: v}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	return st
}
