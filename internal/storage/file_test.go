package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lightd/internal/bus"
	"lightd/internal/eventbus"
	logx "lightd/pkg/logx"
)

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("driver %q: %v %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestFileStoreBusValuesSurviveReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "show.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.PutBusValue(ctx, 0, 25)
	_ = st.PutBusValue(ctx, 0, 30)
	_ = st.PutBusValue(ctx, 5, 7)
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, err := st.BusValues(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 30 || got[5] != 7 {
		t.Fatalf("BusValues = %v", got)
	}
}

func TestFileStoreReplaysJournalWithoutSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := filepath.Join(dir, "show.buses.journal.jsonl")
	data := `{"id":1,"value":4}` + "\n" + `garbage` + "\n" + `{"id":1,"value":9}` + "\n"
	if err := os.WriteFile(journal, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "show.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, _ := st.BusValues(context.Background())
	if got[1] != 9 {
		t.Fatalf("bus 1 = %d, want 9", got[1])
	}
}

func TestRecorderWritesHistoryAndRestore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "show.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	rec := NewRecorder(st, eventbus.Nop(), logx.Nop())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []eventbus.Event{
		{Type: eventbus.FunctionRunning, Time: at, Data: eventbus.FunctionEvent{ID: 3, Name: "Warm", Kind: "Scene"}},
		{Type: eventbus.BusValue, Time: at, Data: eventbus.BusEvent{ID: 0, Value: 12}},
		{Type: eventbus.BusTapped, Time: at, Data: eventbus.BusEvent{ID: 1, Value: 99}},
		{Type: eventbus.FixtureRemoved, Time: at, Data: eventbus.FixtureEvent{ID: 1, Name: "Spot"}},
		{Type: "other", Time: at, Data: 42},
	}
	for _, e := range events {
		if err := rec.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s): %v", e.Type, err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "show.events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []EventEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e EventEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatal(err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 || lines[0].Function != 3 || lines[0].Kind != "Scene" || lines[1].Name != "Spot" {
		t.Fatalf("history = %+v", lines)
	}

	st, err = Open(Config{Driver: "file", Path: filepath.Join(dir, "show.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	reg := bus.New(50, nil)
	n, err := Restore(ctx, st, reg)
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	if reg.Value(bus.DefaultFade) != 12 || reg.Value(bus.DefaultHold) != 0 {
		t.Fatal("tap event must not be persisted as a value")
	}
}

func TestRecorderRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	eb := eventbus.New()
	rec := NewRecorder(st, eb, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		eb.Publish(eventbus.Event{Type: eventbus.BusValue, Data: eventbus.BusEvent{ID: 2, Value: 8}})
		if v, _ := st.BusValues(context.Background()); v[2] == 8 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if v, _ := st.BusValues(context.Background()); v[2] != 8 {
		t.Fatal("recorder did not persist the bus value")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
