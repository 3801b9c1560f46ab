package app

import (
	"strings"
	"time"

	"lightd/internal/bus"
	"lightd/internal/config"
	"lightd/internal/observability/debughttp"
	"lightd/internal/output/artnet"
	"lightd/internal/tapin"
	logx "lightd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapArtNetConfig(c *config.ArtNetConfig) artnet.Config {
	return artnet.Config{
		Target:       strings.TrimSpace(c.Target),
		Port:         c.Port,
		BaseUniverse: c.BaseUniverse,
		Lines:        c.Lines,
		Sync:         c.Sync,
	}
}

func mapTapConfig(c config.TapConfig) tapin.Config {
	ch := tapin.AnyChannel
	if c.Channel > 0 {
		ch = c.Channel - 1
	}
	return tapin.Config{
		Port:    strings.TrimSpace(c.Port),
		Note:    uint8(c.Note),
		Channel: ch,
		Bus:     bus.ID(c.Bus),
	}
}

func mapDebugConfig(c config.DebugConfig) (debughttp.Config, error) {
	read, err := config.ParseDurationOrDefault("debug.read_timeout", c.ReadTimeout, 10*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	// 0 keeps /debug/pprof/profile usable.
	write, err := config.ParseDurationField("debug.write_timeout", c.WriteTimeout)
	if err != nil {
		return debughttp.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("debug.idle_timeout", c.IdleTimeout, 60*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = debughttp.DefaultAddr
	}
	return debughttp.Config{
		Enabled:       c.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(c.Token),
		AllowInsecure: c.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
