package config

type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Engine      EngineConfig      `json:"engine"`
	GrandMaster GrandMasterConfig `json:"grand_master"`
	Output      OutputConfig      `json:"output"`
	Workspace   WorkspaceConfig   `json:"workspace"`

	// Storage is optional; nil disables persistence.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Triggers start, stop or toggle functions on a schedule.
	Triggers []TriggerConfig `json:"triggers,omitempty"`
	Timezone string          `json:"timezone,omitempty"`

	Tap     TapConfig     `json:"tap"`
	Debug   DebugConfig   `json:"debug,omitempty"`
	Systemd SystemdConfig `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig sizes the scheduler and the output buffer.
//
// Defaults: frequency_hz 50, universes 4.
type EngineConfig struct {
	FrequencyHz int `json:"frequency_hz,omitempty"`
	Universes   int `json:"universes,omitempty"`
}

// GrandMasterConfig is the startup grand master. Channels is "intensity" or
// "all"; mode is "reduce" or "limit".
type GrandMasterConfig struct {
	Channels string `json:"channels,omitempty"`
	Mode     string `json:"mode,omitempty"`
	// Value is a pointer so an explicit 0 (blackout) differs from omitted (255).
	Value *int `json:"value,omitempty"`
}

type OutputConfig struct {
	RateHz int `json:"rate_hz,omitempty"`
	// OneBased makes patch universes count from 1 the way consoles label them.
	OneBased bool          `json:"one_based,omitempty"`
	ArtNet   *ArtNetConfig `json:"artnet,omitempty"`
	Patch    []PatchConfig `json:"patch,omitempty"`
}

// ArtNetConfig enables the Art-Net adapter when present.
//
// Example:
//
//	"artnet": { "target": "2.255.255.255", "lines": 4, "sync": true }
type ArtNetConfig struct {
	Target       string `json:"target"`
	Port         int    `json:"port,omitempty"`
	BaseUniverse int    `json:"base_universe,omitempty"`
	Lines        int    `json:"lines,omitempty"`
	Sync         bool   `json:"sync,omitempty"`
}

type PatchConfig struct {
	Universe int    `json:"universe"`
	Adapter  string `json:"adapter"`
	Line     int    `json:"line"`
}

type WorkspaceConfig struct {
	Path       string `json:"path,omitempty"`
	CatalogDir string `json:"catalog_dir,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./lightd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type TriggerConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Function string `json:"function"`
	Action   string `json:"action,omitempty"`
}

// TapConfig binds a MIDI note to a bus tap. Channel is 1..16; 0 means any.
type TapConfig struct {
	Enabled bool   `json:"enabled"`
	Port    string `json:"port,omitempty"`
	Note    int    `json:"note"`
	Channel int    `json:"channel,omitempty"`
	Bus     int    `json:"bus"`
}

// DebugConfig controls the optional debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
