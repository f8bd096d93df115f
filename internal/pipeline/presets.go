package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Band is one weighted delay range.
type Band struct {
	Weight float64
	Min    time.Duration
	Max    time.Duration
}

// Pacing draws human-looking pauses from weighted bands.
type Pacing struct {
	Bands []Band
}

// DefaultPacing mostly waits a few seconds, sometimes moves quickly and
// occasionally lingers.
func DefaultPacing() Pacing {
	return Pacing{Bands: []Band{
		{Weight: 0.7, Min: 2 * time.Second, Max: 5 * time.Second},
		{Weight: 0.2, Min: 500 * time.Millisecond, Max: 2 * time.Second},
		{Weight: 0.1, Min: 5 * time.Second, Max: 15 * time.Second},
	}}
}

// Next picks a band with pick and a point inside it with pos. Both are in [0,1).
func (p Pacing) Next(pick, pos float64) time.Duration {
	if len(p.Bands) == 0 {
		return 0
	}
	var sum float64
	for _, b := range p.Bands {
		sum += b.Weight
	}
	target := pick * sum
	chosen := p.Bands[len(p.Bands)-1]
	var acc float64
	for _, b := range p.Bands {
		acc += b.Weight
		if target < acc {
			chosen = b
			break
		}
	}
	if chosen.Max <= chosen.Min {
		return chosen.Min
	}
	return chosen.Min + time.Duration(pos*float64(chosen.Max-chosen.Min))
}

// Preset is a named pacing profile.
type Preset struct {
	Name         string
	Description  string
	Pacing       Pacing
	RestartEvery int
	RestartPause time.Duration
}

// builtinPresets is the registry of all known pacing profiles.
var builtinPresets = map[string]Preset{
	"standard": {
		Name:         "standard",
		Description:  "Default pacing, browser replaced every 3 jobs",
		Pacing:       DefaultPacing(),
		RestartEvery: 3,
		RestartPause: 3 * time.Second,
	},
	"careful": {
		Name:        "careful",
		Description: "Slower pacing for sites with aggressive bot detection",
		Pacing: Pacing{Bands: []Band{
			{Weight: 0.6, Min: 4 * time.Second, Max: 8 * time.Second},
			{Weight: 0.3, Min: 2 * time.Second, Max: 4 * time.Second},
			{Weight: 0.1, Min: 10 * time.Second, Max: 20 * time.Second},
		}},
		RestartEvery: 2,
		RestartPause: 5 * time.Second,
	},
	"fast": {
		Name:        "fast",
		Description: "Short pauses for sites you operate yourself",
		Pacing: Pacing{Bands: []Band{
			{Weight: 1, Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
		}},
		RestartEvery: 5,
		RestartPause: time.Second,
	},
}

// GetPreset returns a copy of the named preset.
func GetPreset(name string) (Preset, error) {
	p, ok := builtinPresets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q (valid: %s)", name, strings.Join(PresetNames(), ", "))
	}
	p.Pacing.Bands = append([]Band(nil), p.Pacing.Bands...)
	return p, nil
}

// PresetNames lists preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(builtinPresets))
	for n := range builtinPresets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply copies the preset into an orchestrator config. Restart settings
// already present in cfg win over the preset's.
func (p Preset) Apply(cfg Config) Config {
	cfg.Pacing = p.Pacing
	if cfg.RestartEvery <= 0 {
		cfg.RestartEvery = p.RestartEvery
	}
	if cfg.RestartPause <= 0 {
		cfg.RestartPause = p.RestartPause
	}
	cfg.Preset = p.Name
	return cfg
}
