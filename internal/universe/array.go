// Package universe implements the shared output buffer: N universes of 512
// channels, each with a pre-grand-master value, a derived post-grand-master
// value and a channel group tag.
//
// An Array is not safe for concurrent use. The engine holds it exclusively
// for the length of one tick; everything else goes through output.Map.
package universe

import (
	"fmt"
	"strings"
)

// Channels is the number of channels in one universe.
const Channels = 512

// Group classifies a channel for mixing. Intensity channels mix HTP and are
// zeroed at the start of every tick; every other group mixes LTP.
type Group uint8

const (
	Intensity Group = iota
	Pan
	Tilt
	Colour
	Gobo
	Shutter
	Speed
	Prism
	Beam
	Effect
	Maintenance
	Nothing
)

var groupNames = [...]string{
	Intensity:   "intensity",
	Pan:         "pan",
	Tilt:        "tilt",
	Colour:      "colour",
	Gobo:        "gobo",
	Shutter:     "shutter",
	Speed:       "speed",
	Prism:       "prism",
	Beam:        "beam",
	Effect:      "effect",
	Maintenance: "maintenance",
	Nothing:     "nothing",
}

func (g Group) String() string {
	if int(g) < len(groupNames) {
		return groupNames[g]
	}
	return fmt.Sprintf("group(%d)", uint8(g))
}

// ParseGroup accepts the lower-case group names plus "color" and "dimmer".
func ParseGroup(s string) (Group, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "color":
		return Colour, true
	case "dimmer":
		return Intensity, true
	}
	for i, n := range groupNames {
		if n == s {
			return Group(i), true
		}
	}
	return Nothing, false
}

// GMChannelMode selects which channels the grand master affects.
type GMChannelMode uint8

const (
	GMIntensity GMChannelMode = iota
	GMAllChannels
)

// GMValueMode selects how the grand master scales a value.
type GMValueMode uint8

const (
	// GMReduce multiplies: post = pre * gm / 255.
	GMReduce GMValueMode = iota
	// GMLimit clamps: post = min(pre, gm).
	GMLimit
)

func ParseGMChannelMode(s string) (GMChannelMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "intensity":
		return GMIntensity, true
	case "all":
		return GMAllChannels, true
	}
	return GMIntensity, false
}

func ParseGMValueMode(s string) (GMValueMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reduce":
		return GMReduce, true
	case "limit":
		return GMLimit, true
	}
	return GMReduce, false
}

func (m GMChannelMode) String() string {
	if m == GMAllChannels {
		return "all"
	}
	return "intensity"
}

func (m GMValueMode) String() string {
	if m == GMLimit {
		return "limit"
	}
	return "reduce"
}

type Array struct {
	pre    []byte
	post   []byte
	groups []Group

	// intensity lists every address ever written with the Intensity group.
	intensity []int
	tracked   []bool

	gmChannels GMChannelMode
	gmValues   GMValueMode
	gm         uint8
}

// New allocates universes*512 channels, all zero, grand master at full.
func New(universes int) *Array {
	if universes <= 0 {
		universes = 1
	}
	n := universes * Channels
	a := &Array{
		pre:     make([]byte, n),
		post:    make([]byte, n),
		groups:  make([]Group, n),
		tracked: make([]bool, n),
		gm:      255,
	}
	for i := range a.groups {
		a.groups[i] = Nothing
	}
	return a
}

func (a *Array) Size() int      { return len(a.pre) }
func (a *Array) Universes() int { return len(a.pre) / Channels }

func (a *Array) valid(addr int) bool { return addr >= 0 && addr < len(a.pre) }

// Write stores v as the pre-GM value of addr, tags the channel with g and
// recomputes its post-GM value. It returns false for an out-of-range address.
func (a *Array) Write(addr int, v uint8, g Group) bool {
	if !a.valid(addr) {
		return false
	}
	a.pre[addr] = v
	a.groups[addr] = g
	if g == Intensity && !a.tracked[addr] {
		a.tracked[addr] = true
		a.intensity = append(a.intensity, addr)
	}
	a.post[addr] = a.apply(v, g)
	return true
}

func (a *Array) PreGM(addr int) uint8 {
	if !a.valid(addr) {
		return 0
	}
	return a.pre[addr]
}

func (a *Array) PostGM(addr int) uint8 {
	if !a.valid(addr) {
		return 0
	}
	return a.post[addr]
}

func (a *Array) Group(addr int) Group {
	if !a.valid(addr) {
		return Nothing
	}
	return a.groups[addr]
}

// ZeroIntensityChannels clears every channel currently tagged Intensity so
// HTP writers start each tick from zero.
func (a *Array) ZeroIntensityChannels() {
	for _, addr := range a.intensity {
		if a.groups[addr] != Intensity {
			continue
		}
		a.pre[addr] = 0
		a.post[addr] = 0
	}
}

// Reset zeroes every channel and forgets all group tags.
func (a *Array) Reset() {
	clear(a.pre)
	clear(a.post)
	clear(a.tracked)
	for i := range a.groups {
		a.groups[i] = Nothing
	}
	a.intensity = a.intensity[:0]
}

func (a *Array) GrandMaster() (GMChannelMode, GMValueMode, uint8) {
	return a.gmChannels, a.gmValues, a.gm
}

// SetGrandMaster changes the global scale and recomputes every post-GM value.
func (a *Array) SetGrandMaster(ch GMChannelMode, mode GMValueMode, value uint8) {
	a.gmChannels, a.gmValues, a.gm = ch, mode, value
	for i, v := range a.pre {
		a.post[i] = a.apply(v, a.groups[i])
	}
}

func (a *Array) apply(v uint8, g Group) uint8 {
	if a.gm == 255 {
		return v
	}
	if a.gmChannels == GMIntensity && g != Intensity {
		return v
	}
	if a.gmValues == GMLimit {
		return min(v, a.gm)
	}
	return uint8(uint16(v) * uint16(a.gm) / 255)
}

// CopyFrame copies the post-GM values of one universe into dst and returns
// the number of bytes copied.
func (a *Array) CopyFrame(universe int, dst []byte) int {
	if universe < 0 || universe >= a.Universes() {
		return 0
	}
	off := universe * Channels
	return copy(dst, a.post[off:off+Channels])
}
