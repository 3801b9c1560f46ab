// Package loopback is an in-memory output adapter. It keeps the last frame
// written to each line; tests and the debug endpoint read it back.
package loopback

import (
	"fmt"
	"sync"
)

const Name = "loopback"

type Adapter struct {
	mu     sync.Mutex
	lines  int
	open   []bool
	frames [][]byte
	writes []uint64
}

func New(lines int) *Adapter {
	if lines <= 0 {
		lines = 4
	}
	return &Adapter{
		lines:  lines,
		open:   make([]bool, lines),
		frames: make([][]byte, lines),
		writes: make([]uint64, lines),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Outputs() []string {
	out := make([]string, a.lines)
	for i := range out {
		out[i] = fmt.Sprintf("Loopback %d", i+1)
	}
	return out
}

func (a *Adapter) check(line int) error {
	if line < 0 || line >= a.lines {
		return fmt.Errorf("loopback line %d out of range", line)
	}
	return nil
}

func (a *Adapter) Open(line int) error {
	if err := a.check(line); err != nil {
		return err
	}
	a.mu.Lock()
	a.open[line] = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Close(line int) error {
	if err := a.check(line); err != nil {
		return err
	}
	a.mu.Lock()
	a.open[line] = false
	a.mu.Unlock()
	return nil
}

func (a *Adapter) IsOpen(line int) bool {
	if a.check(line) != nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open[line]
}

func (a *Adapter) Write(line int, frame []byte) error {
	if err := a.check(line); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open[line] {
		return fmt.Errorf("loopback line %d is closed", line)
	}
	a.frames[line] = append(a.frames[line][:0], frame...)
	a.writes[line]++
	return nil
}

// Frame returns a copy of the last frame written to line.
func (a *Adapter) Frame(line int) []byte {
	if a.check(line) != nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.frames[line]...)
}

func (a *Adapter) Writes(line int) uint64 {
	if a.check(line) != nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writes[line]
}
