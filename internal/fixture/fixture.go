// Package fixture describes patched fixtures: where they sit in the output
// buffer and what each of their channels does.
package fixture

import (
	"errors"
	"fmt"
	"math"

	"lightd/internal/universe"
)

type ID uint32

// InvalidID never names a live fixture.
const InvalidID ID = math.MaxUint32

// Byte marks the coarse (MSB) or fine (LSB) half of a 16-bit control.
type Byte uint8

const (
	MSB Byte = iota
	LSB
)

type Channel struct {
	Name  string
	Group universe.Group
	Byte  Byte
}

var ErrNoMode = errors.New("fixture: mode not found")

// Fixture is one patched device. Address is zero-based within Universe.
type Fixture struct {
	ID       ID
	Name     string
	Universe int
	Address  int

	Manufacturer string
	Model        string
	Mode         string

	channels []Channel
	head     Head
}

// Head holds channel indexes of the pan/tilt controls, -1 when absent.
type Head struct {
	PanMSB, PanLSB   int
	TiltMSB, TiltLSB int
}

// NewGeneric returns a dimmer pack with n intensity channels.
func NewGeneric(name string, uni, address, n int) *Fixture {
	if n <= 0 {
		n = 1
	}
	chs := make([]Channel, n)
	for i := range chs {
		chs[i] = Channel{Name: fmt.Sprintf("Intensity %d", i+1), Group: universe.Intensity}
	}
	return newFixture(name, uni, address, chs)
}

// New patches a catalog definition in the given mode.
func New(name string, def *Def, mode string, uni, address int) (*Fixture, error) {
	m, ok := def.Mode(mode)
	if !ok {
		return nil, fmt.Errorf("%s %s %q: %w", def.Manufacturer, def.Model, mode, ErrNoMode)
	}
	f := newFixture(name, uni, address, m.Channels)
	f.Manufacturer, f.Model, f.Mode = def.Manufacturer, def.Model, m.Name
	return f, nil
}

func newFixture(name string, uni, address int, chs []Channel) *Fixture {
	f := &Fixture{
		ID:       InvalidID,
		Name:     name,
		Universe: uni,
		Address:  address,
		channels: append([]Channel(nil), chs...),
		head:     Head{PanMSB: -1, PanLSB: -1, TiltMSB: -1, TiltLSB: -1},
	}
	for i, c := range f.channels {
		switch {
		case c.Group == universe.Pan && c.Byte == MSB && f.head.PanMSB < 0:
			f.head.PanMSB = i
		case c.Group == universe.Pan && c.Byte == LSB && f.head.PanLSB < 0:
			f.head.PanLSB = i
		case c.Group == universe.Tilt && c.Byte == MSB && f.head.TiltMSB < 0:
			f.head.TiltMSB = i
		case c.Group == universe.Tilt && c.Byte == LSB && f.head.TiltLSB < 0:
			f.head.TiltLSB = i
		}
	}
	return f
}

func (f *Fixture) ChannelCount() int { return len(f.channels) }

func (f *Fixture) Channel(i int) (Channel, bool) {
	if i < 0 || i >= len(f.channels) {
		return Channel{}, false
	}
	return f.channels[i], true
}

func (f *Fixture) Channels() []Channel { return append([]Channel(nil), f.channels...) }

func (f *Fixture) Head() Head { return f.head }

// UniverseAddress is the absolute buffer address of the first channel.
func (f *Fixture) UniverseAddress() int { return f.Universe*universe.Channels + f.Address }

// ChannelAddress returns the absolute buffer address of channel i, or -1.
func (f *Fixture) ChannelAddress(i int) int {
	if i < 0 || i >= len(f.channels) {
		return -1
	}
	return f.UniverseAddress() + i
}

// IsGeneric reports whether the fixture is a plain dimmer pack.
func (f *Fixture) IsGeneric() bool { return f.Manufacturer == "" && f.Model == "" }
