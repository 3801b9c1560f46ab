package workspace

import "go.yaml.in/yaml/v3"

// Version is the only workspace format this build reads and writes.
const Version = 1

type file struct {
	Version   int         `yaml:"version"`
	Buses     []yaml.Node `yaml:"buses,omitempty"`
	Fixtures  []yaml.Node `yaml:"fixtures,omitempty"`
	Functions []yaml.Node `yaml:"functions,omitempty"`
}

type busRec struct {
	ID    *int   `yaml:"id"`
	Name  string `yaml:"name,omitempty"`
	Value int64  `yaml:"value"`
}

type fixtureRec struct {
	ID           *int   `yaml:"id"`
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Mode         string `yaml:"mode,omitempty"`
	Universe     int    `yaml:"universe"`
	Address      int    `yaml:"address"`
	Channels     int    `yaml:"channels,omitempty"`
}

type busRef struct {
	Role string `yaml:"role"`
	ID   int64  `yaml:"id"`
}

type valueRec struct {
	Fixture int64 `yaml:"fixture"`
	Channel int   `yaml:"channel"`
	Value   int   `yaml:"value"`
}

type boundaryRec struct {
	ID      int64 `yaml:"id"`
	Enabled bool  `yaml:"enabled"`
}

type axisRec struct {
	Offset    *int `yaml:"offset,omitempty"`
	Frequency *int `yaml:"frequency,omitempty"`
	Phase     *int `yaml:"phase,omitempty"`
}

type axesRec struct {
	X axisRec `yaml:"x"`
	Y axisRec `yaml:"y"`
}

type efxFixtureRec struct {
	ID        int64  `yaml:"id"`
	Direction string `yaml:"direction,omitempty"`
}

type functionRec struct {
	Type      string   `yaml:"type"`
	ID        *int     `yaml:"id,omitempty"`
	Name      string   `yaml:"name"`
	Bus       []busRef `yaml:"bus,omitempty"`
	Direction string   `yaml:"direction,omitempty"`
	RunOrder  string   `yaml:"run_order,omitempty"`

	// Scene
	Values []valueRec `yaml:"values,omitempty"`

	// EFX
	Propagation string          `yaml:"propagation,omitempty"`
	Algorithm   string          `yaml:"algorithm,omitempty"`
	Width       *int            `yaml:"width,omitempty"`
	Height      *int            `yaml:"height,omitempty"`
	Rotation    *int            `yaml:"rotation,omitempty"`
	StartScene  *boundaryRec    `yaml:"start_scene,omitempty"`
	StopScene   *boundaryRec    `yaml:"stop_scene,omitempty"`
	Axes        *axesRec        `yaml:"axes,omitempty"`
	Fixtures    []efxFixtureRec `yaml:"fixtures,omitempty"`

	// Chaser
	Steps []int64 `yaml:"steps,omitempty"`

	// Collection
	Members []int64 `yaml:"members,omitempty"`
}

func intp(v int) *int { return &v }
