package fixture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"lightd/internal/universe"
	logx "lightd/pkg/logx"
)

// Def is a fixture definition. Defs returned by a Catalog are shared and
// must be treated as read-only.
type Def struct {
	Manufacturer string
	Model        string
	Type         string
	Modes        []Mode
}

type Mode struct {
	Name     string
	Channels []Channel
}

func (d *Def) Mode(name string) (Mode, bool) {
	if d == nil {
		return Mode{}, false
	}
	if name == "" && len(d.Modes) > 0 {
		return d.Modes[0], true
	}
	for _, m := range d.Modes {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Mode{}, false
}

// Catalog is an immutable (manufacturer, model) -> Def lookup.
type Catalog struct {
	defs map[string]*Def
}

func catalogKey(manufacturer, model string) string {
	return strings.ToLower(strings.TrimSpace(manufacturer)) + "\x00" + strings.ToLower(strings.TrimSpace(model))
}

func NewCatalog(defs ...*Def) *Catalog {
	c := &Catalog{defs: make(map[string]*Def, len(defs))}
	for _, d := range defs {
		if d != nil {
			c.defs[catalogKey(d.Manufacturer, d.Model)] = d
		}
	}
	return c
}

func (c *Catalog) Lookup(manufacturer, model string) (*Def, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.defs[catalogKey(manufacturer, model)]
	return d, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.defs)
}

// Defs returns every definition sorted by manufacturer then model.
func (c *Catalog) Defs() []*Def {
	if c == nil {
		return nil
	}
	out := make([]*Def, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Manufacturer != out[j].Manufacturer {
			return out[i].Manufacturer < out[j].Manufacturer
		}
		return out[i].Model < out[j].Model
	})
	return out
}

type defFile struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Type         string `yaml:"type"`
	Modes        []struct {
		Name     string `yaml:"name"`
		Channels []struct {
			Name  string `yaml:"name"`
			Group string `yaml:"group"`
			Byte  string `yaml:"byte"`
		} `yaml:"channels"`
	} `yaml:"modes"`
}

// ParseDef decodes one YAML definition.
func ParseDef(data []byte) (*Def, error) {
	var f defFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if strings.TrimSpace(f.Manufacturer) == "" || strings.TrimSpace(f.Model) == "" {
		return nil, fmt.Errorf("manufacturer and model are required")
	}
	if len(f.Modes) == 0 {
		return nil, fmt.Errorf("%s %s: no modes", f.Manufacturer, f.Model)
	}
	d := &Def{Manufacturer: f.Manufacturer, Model: f.Model, Type: f.Type}
	for _, m := range f.Modes {
		mode := Mode{Name: m.Name}
		for i, ch := range m.Channels {
			g, ok := universe.ParseGroup(ch.Group)
			if !ok {
				return nil, fmt.Errorf("%s %s mode %q channel %d: unknown group %q", f.Manufacturer, f.Model, m.Name, i, ch.Group)
			}
			b := MSB
			switch strings.ToLower(ch.Byte) {
			case "", "msb", "coarse":
			case "lsb", "fine":
				b = LSB
			default:
				return nil, fmt.Errorf("%s %s mode %q channel %d: unknown byte %q", f.Manufacturer, f.Model, m.Name, i, ch.Byte)
			}
			mode.Channels = append(mode.Channels, Channel{Name: ch.Name, Group: g, Byte: b})
		}
		if len(mode.Channels) == 0 {
			return nil, fmt.Errorf("%s %s mode %q: no channels", f.Manufacturer, f.Model, m.Name)
		}
		d.Modes = append(d.Modes, mode)
	}
	return d, nil
}

// LoadCatalog reads every *.yaml / *.yml file in dir. A file that fails to
// parse is skipped with a warning. A missing dir yields an empty catalog.
func LoadCatalog(dir string, log logx.Logger) (*Catalog, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(dir) == "" {
		return NewCatalog(), nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return NewCatalog(), nil
		}
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}
	var defs []*Def
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			log.Warn("catalog read failed", logx.String("path", path), logx.Err(err))
			continue
		}
		d, err := ParseDef(b)
		if err != nil {
			log.Warn("catalog entry skipped", logx.String("path", path), logx.Err(err))
			continue
		}
		defs = append(defs, d)
	}
	c := NewCatalog(defs...)
	log.Debug("fixture catalog loaded", logx.String("dir", dir), logx.Int("defs", c.Len()))
	return c, nil
}
