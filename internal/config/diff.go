package config

import (
	"reflect"
	"sort"
	"strings"

	logx "lightd/pkg/logx"
)

// Sections applied without a restart.
var hotSections = map[string]bool{
	"logging":      true,
	"grand_master": true,
	"triggers":     true,
	"debug":        true,
}

// SummarizeConfigChange returns (1) the changed sections, (2) safe structured
// attrs for logging (never the debug token) and (3) the changed sections that
// only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.frequency_hz", newCfg.FrequencyHz()),
			logx.Int("engine.universes", newCfg.Universes()),
		)
	}

	oCh, oMode, oVal := oldCfg.GrandMasterSettings()
	nCh, nMode, nVal := newCfg.GrandMasterSettings()
	if oCh != nCh || oMode != nMode || oVal != nVal {
		changed = append(changed, "grand_master")
		attrs = append(attrs,
			logx.String("grand_master.channels", nCh.String()),
			logx.String("grand_master.mode", nMode.String()),
			logx.Int("grand_master.value", int(nVal)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Output, newCfg.Output) {
		changed = append(changed, "output")
		attrs = append(attrs,
			logx.Int("output.rate_hz", newCfg.Output.RateHz),
			logx.Bool("output.artnet", newCfg.Output.ArtNet != nil),
			logx.Int("output.patch_count", len(newCfg.Output.Patch)),
		)
	}

	if oldCfg.Workspace != newCfg.Workspace {
		changed = append(changed, "workspace")
		attrs = append(attrs, logx.String("workspace.path", newCfg.Workspace.Path))
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers) ||
		strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "triggers")
		attrs = append(attrs,
			logx.Int("triggers.count", len(newCfg.Triggers)),
			logx.String("triggers.timezone", strings.TrimSpace(newCfg.Timezone)),
		)
	}

	if oldCfg.Tap != newCfg.Tap {
		changed = append(changed, "tap")
		attrs = append(attrs, logx.Bool("tap.enabled", newCfg.Tap.Enabled))
	}

	o, n := oldCfg.Debug, newCfg.Debug
	tokenChanged := o.Token != n.Token
	o.Token, n.Token = "", ""
	if o != n || tokenChanged {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", n.Enabled),
			logx.String("debug.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
