package storage

import (
	"context"
	"time"

	"lightd/internal/bus"
	"lightd/internal/eventbus"
	logx "lightd/pkg/logx"
)

// Recorder copies engine notifications into a Store. Bus values are
// persisted; function and fixture events become history entries.
type Recorder struct {
	store  Store
	events eventbus.Bus
	log    logx.Logger
}

func NewRecorder(store Store, events eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, events: events, log: log.With(logx.String("comp", "recorder"))}
}

// Run consumes events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.events.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Record(ctx, e); err != nil {
				r.log.Warn("record event failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

// Record stores a single event. Unknown types are ignored.
func (r *Recorder) Record(ctx context.Context, e eventbus.Event) error {
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	switch d := e.Data.(type) {
	case eventbus.BusEvent:
		if e.Type != eventbus.BusValue {
			return nil
		}
		return r.store.PutBusValue(wctx, d.ID, d.Value)
	case eventbus.FunctionEvent:
		return r.store.AppendEvent(wctx, EventEntry{
			At: e.Time, Type: e.Type, Function: d.ID, Name: d.Name, Kind: d.Kind, Chained: d.Chained,
		})
	case eventbus.FixtureEvent:
		return r.store.AppendEvent(wctx, EventEntry{At: e.Time, Type: e.Type, Name: d.Name})
	}
	return nil
}

// Restore loads persisted bus values into reg and returns how many were
// applied. Ids outside the registry are skipped.
func Restore(ctx context.Context, store Store, reg *bus.Registry) (int, error) {
	vals, err := store.BusValues(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for id, v := range vals {
		if !bus.ID(id).Valid() {
			continue
		}
		reg.SetValue(bus.ID(id), v)
		n++
	}
	return n, nil
}
