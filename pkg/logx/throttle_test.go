package logx

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestThrottleCountsSuppressed(t *testing.T) {
	t.Parallel()
	th := NewThrottle(time.Hour)

	ok, n := th.Allow()
	if !ok || n != 0 {
		t.Fatalf("first Allow = (%v, %d), want (true, 0)", ok, n)
	}
	for i := 0; i < 3; i++ {
		if ok, _ := th.Allow(); ok {
			t.Fatalf("Allow #%d = true, want false", i+2)
		}
	}
	if got := th.suppressed.Load(); got != 3 {
		t.Fatalf("suppressed = %d, want 3", got)
	}
}

func TestNilThrottleAlwaysAllows(t *testing.T) {
	t.Parallel()
	var th *Throttle
	if ok, _ := th.Allow(); !ok {
		t.Fatal("nil throttle should allow")
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "engine"))
	log.Info("tick overrun", Int("ticks", 3))

	out := buf.String()
	for _, want := range []string{`"comp":"engine"`, `"ticks":3`, `"message":"tick overrun"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, lv := range []string{"", "debug", "WARN", " info "} {
		if !ValidLevel(lv) {
			t.Fatalf("ValidLevel(%q) = false", lv)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}
