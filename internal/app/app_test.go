package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lightd/internal/storage"
	logx "lightd/pkg/logx"
)

const testShow = `
version: 1
fixtures:
  - {id: 0, name: Dimmers, universe: 0, address: 0, channels: 4}
functions:
  - type: Scene
    id: 0
    name: Warm
    values:
      - {fixture: 0, channel: 0, value: 200}
      - {fixture: 0, channel: 1, value: 100}
`

const testConfig = `
logging: {level: warn, console: true}
engine: {frequency_hz: 100, universes: 1}
output:
  rate_hz: 100
  patch: [{universe: 0, adapter: loopback, line: 0}]
workspace: {path: WS}
storage: {driver: file, path: STORE}
triggers:
  - {name: nightly, schedule: "cron: 0 0 3 * * *", function: Warm}
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	ws := filepath.Join(dir, "show.yaml")
	if err := os.WriteFile(ws, []byte(testShow), 0o644); err != nil {
		t.Fatal(err)
	}
	body = strings.ReplaceAll(body, "WS", ws)
	body = strings.ReplaceAll(body, "STORE", filepath.Join(dir, "store"))
	path := filepath.Join(dir, "lightd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func frameValue(a *App, ch int) int {
	f := a.Loopback().Frame(0)
	if len(f) <= ch {
		return -1
	}
	return int(f[ch])
}

// NewApp swaps process-wide logger settings, so these tests run serially.
func TestAppRunsSceneAndHotReloadsGrandMaster(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, testConfig)

	// A stored bus value must override the workspace default.
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.PutBusValue(context.Background(), 3, 77); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Doc().Buses().Value(3); got != 77 {
		t.Fatalf("restored bus 3 = %d", got)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = a.Stop(ctx, StopAppStop)
		}
	}()

	if err := a.StartFunction("Warm"); err != nil {
		t.Fatal(err)
	}
	if err := a.StartFunction("Nope"); err == nil {
		t.Fatal("unknown function started")
	}
	waitFor(t, "scene output", func() bool { return frameValue(a, 0) == 200 && frameValue(a, 1) == 100 })

	st0 := a.Status()
	if !st0.Running || len(st0.Functions) != 1 || st0.Functions[0].Name != "Warm" {
		t.Fatalf("status = %+v", st0)
	}
	if len(st0.Triggers) != 1 || st0.Triggers[0].Next.IsZero() {
		t.Fatalf("triggers = %+v", st0.Triggers)
	}

	// Limit the grand master through the config file.
	reloaded := strings.Replace(testConfig, "engine:", "grand_master: {mode: limit, value: 150}\nengine:", 1)
	writeConfig(t, dir, reloaded)
	if got, err := a.Config().Reload(ctx); err != nil || got != "published" {
		t.Fatalf("reload = %s %v", got, err)
	}
	waitFor(t, "grand master limit", func() bool { return frameValue(a, 0) == 150 && frameValue(a, 1) == 100 })

	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatal(err)
	}
	stopped = true
	if a.Timer().IsRunning() {
		t.Fatal("engine still running after stop")
	}
	if a.Output().Dispatched() == 0 {
		t.Fatal("no frames dispatched")
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	bad := strings.Replace(testConfig, "adapter: loopback", "adapter: dmxking", 1)
	if _, err := NewApp(writeConfig(t, dir, bad)); err == nil {
		t.Fatal("unknown adapter accepted")
	}
}

func TestMissingWorkspaceStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	cfg := strings.Replace(testConfig, "path: WS", "path: "+filepath.Join(dir, "absent.yaml"), 1)
	cfg = strings.Replace(cfg, "triggers:\n  - {name: nightly, schedule: \"cron: 0 0 3 * * *\", function: Warm}\n", "", 1)
	a, err := NewApp(writeConfig(t, dir, cfg))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(a.Doc().Functions()); n != 0 {
		t.Fatalf("functions = %d", n)
	}
}
