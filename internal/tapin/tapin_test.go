package tapin

import (
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"lightd/internal/bus"
	logx "lightd/pkg/logx"
)

func TestHandleFiltersNoteAndChannel(t *testing.T) {
	t.Parallel()
	reg := bus.New(50, nil)
	l := New(Config{Note: 36, Channel: 9, Bus: 3}, reg, logx.Nop())
	at := time.Unix(1000, 0)

	tests := []struct {
		name string
		msg  midi.Message
		want bool
	}{
		{"other note", midi.NoteOn(9, 37, 100), false},
		{"other channel", midi.NoteOn(0, 36, 100), false},
		{"note off", midi.NoteOff(9, 36), false},
		{"zero velocity", midi.NoteOn(9, 36, 0), false},
		{"control change", midi.ControlChange(9, 36, 127), false},
		{"match", midi.NoteOn(9, 36, 100), true},
	}
	for _, tc := range tests {
		if got := l.Handle(tc.msg, at); got != tc.want {
			t.Fatalf("%s: Handle = %v", tc.name, got)
		}
	}
}

func TestTapsSetBusTempo(t *testing.T) {
	t.Parallel()
	reg := bus.New(50, nil)
	l := New(Config{Note: 60, Channel: AnyChannel, Bus: 2}, reg, logx.Nop())
	at := time.Unix(2000, 0)

	l.Handle(midi.NoteOn(4, 60, 90), at)
	if l.Handle(midi.NoteOn(4, 60, 90), at.Add(10*time.Millisecond)) {
		t.Fatal("bounce not debounced")
	}
	if !l.Handle(midi.NoteOn(1, 60, 90), at.Add(500*time.Millisecond)) {
		t.Fatal("second tap dropped")
	}
	if v := reg.Value(2); v != 25 {
		t.Fatalf("bus 2 = %d, want 25 ticks for 500ms at 50Hz", v)
	}
	if l.Taps() != 2 {
		t.Fatalf("Taps = %d", l.Taps())
	}
}
