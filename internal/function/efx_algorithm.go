package function

import (
	"math"
	"strings"
)

type Algorithm uint8

const (
	Circle Algorithm = iota
	Eight
	Line
	Diamond
	Lissajous
)

var algorithmNames = [...]string{
	Circle:    "Circle",
	Eight:     "Eight",
	Line:      "Line",
	Diamond:   "Diamond",
	Lissajous: "Lissajous",
}

func (a Algorithm) String() string {
	if int(a) < len(algorithmNames) {
		return algorithmNames[a]
	}
	return algorithmNames[Circle]
}

// ParseAlgorithm maps a name to an algorithm. Unknown names give Circle.
func ParseAlgorithm(s string) Algorithm {
	for i, n := range algorithmNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return Algorithm(i)
		}
	}
	return Circle
}

func Algorithms() []string { return append([]string(nil), algorithmNames[:]...) }

type Propagation uint8

const (
	Parallel Propagation = iota
	Serial
)

func (p Propagation) String() string {
	if p == Serial {
		return "Serial"
	}
	return "Parallel"
}

func ParsePropagation(s string) (Propagation, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parallel":
		return Parallel, true
	case "serial":
		return Serial, true
	}
	return Parallel, false
}

// DefaultPreviewResolution is the sample count Preview uses for res <= 0.
const DefaultPreviewResolution = 128

// Point is one preview sample in the 0..255 pan/tilt plane.
type Point struct {
	X, Y int
}

// shape is a snapshot of the curve parameters so one tick reads the config
// lock once.
type shape struct {
	algorithm        Algorithm
	width, height    float64
	xOffset, yOffset float64
	rotSin, rotCos   float64
	xFreq, yFreq     float64
	xPhase, yPhase   float64 // radians
}

// raw maps an angle in [0, 2pi] to a point on the unit curve.
func (s *shape) raw(t float64) (x, y float64) {
	switch s.algorithm {
	case Eight:
		return math.Cos(2*t + math.Pi/2), math.Cos(t)
	case Line:
		return math.Cos(t), math.Cos(t)
	case Diamond:
		return math.Pow(math.Cos(t-math.Pi/2), 3), math.Pow(math.Cos(t), 3)
	case Lissajous:
		return math.Cos(s.xFreq*t - s.xPhase), math.Cos(s.yFreq*t - s.yPhase)
	default:
		return math.Cos(t + math.Pi/2), math.Cos(t)
	}
}

// point scales, rotates and translates the raw curve, in that order.
func (s *shape) point(t float64) (x, y float64) {
	rx, ry := s.raw(t)
	sx, sy := rx*s.width, ry*s.height
	x = sx*s.rotCos + sy*s.rotSin
	y = -sx*s.rotSin + sy*s.rotCos
	return s.xOffset + x, s.yOffset + y
}

func roundHalfUp(v float64) int { return int(math.Floor(v + 0.5)) }

func degToRad(d int) float64 { return float64(d) * math.Pi / 180 }
