package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"

	"github.com/crunch-go/crunch/crn"
)

// Config holds the compression settings read from a TOML file.
type Config struct {
	Format string `toml:"format"`
	// Quality is 0..255. Nil selects DefaultQuality.
	Quality *int `toml:"quality"`
	// Mips caps the number of mip levels. Zero builds the full chain.
	Mips   int  `toml:"mips"`
	Linear bool `toml:"linear"`
	// Alpha names the source channel of the alpha stream ("r", "g", "b", "a").
	Alpha string `toml:"alpha"`
	// Helpers is the number of worker goroutines besides the caller. Nil
	// selects one per CPU.
	Helpers *int `toml:"helpers"`

	Palettes Palettes `toml:"palettes"`

	UserData0 uint32 `toml:"user_data0"`
	UserData1 uint32 `toml:"user_data1"`
}

// Palettes overrides the quality-derived codebook sizes when any entry is
// non-zero.
type Palettes struct {
	ColorEndpoints int `toml:"color_endpoints"`
	ColorSelectors int `toml:"color_selectors"`
	AlphaEndpoints int `toml:"alpha_endpoints"`
	AlphaSelectors int `toml:"alpha_selectors"`
}

func (p Palettes) manual() bool { return p != Palettes{} }

const (
	DefaultFormat  = "DXT1"
	DefaultQuality = 128
)

// Load reads a TOML config file and returns Config.
// Fields not set in the file keep their zero values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Flags holds CLI flag values that override config file settings.
// Negative Quality and Helpers mean unset.
type Flags struct {
	Format  string
	Quality int
	Mips    int
	Linear  bool
	Alpha   string
	Helpers int
}

// Resolve applies flags over the file values and fills in defaults.
// CLI flags take priority when set.
func (c *Config) Resolve(flags Flags) {
	if flags.Format != "" {
		c.Format = flags.Format
	}
	if flags.Quality >= 0 {
		q := flags.Quality
		c.Quality = &q
	}
	if flags.Mips > 0 {
		c.Mips = flags.Mips
	}
	if flags.Linear {
		c.Linear = true
	}
	if flags.Alpha != "" {
		c.Alpha = flags.Alpha
	}
	if flags.Helpers >= 0 {
		h := flags.Helpers
		c.Helpers = &h
	}

	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.Quality == nil {
		q := DefaultQuality
		c.Quality = &q
	}
	if c.Helpers == nil {
		h := min(runtime.NumCPU()-1, crn.MaxHelpers)
		c.Helpers = &h
	}
}

// EncodeOptions maps c onto the compressor options. Images and dimensions
// are left to the caller.
func (c Config) EncodeOptions() (crn.EncodeOptions, error) {
	f, err := crn.ParseFormat(c.Format)
	if err != nil {
		return crn.EncodeOptions{}, fmt.Errorf("config: %w", err)
	}
	ch, err := crn.ParseChannel(c.Alpha)
	if err != nil {
		return crn.EncodeOptions{}, fmt.Errorf("config: %w", err)
	}
	opts := crn.EncodeOptions{
		Format:       f,
		QualityLevel: DefaultQuality,
		Perceptual:   !c.Linear,
		AlphaChannel: ch,
		UserData0:    c.UserData0,
		UserData1:    c.UserData1,
	}
	if c.Quality != nil {
		opts.QualityLevel = *c.Quality
	}
	if c.Helpers != nil {
		opts.Helpers = *c.Helpers
	}
	if c.Palettes.manual() {
		opts.ManualPaletteSizes = true
		opts.ColorEndpointPaletteSize = c.Palettes.ColorEndpoints
		opts.ColorSelectorPaletteSize = c.Palettes.ColorSelectors
		opts.AlphaEndpointPaletteSize = c.Palettes.AlphaEndpoints
		opts.AlphaSelectorPaletteSize = c.Palettes.AlphaSelectors
	}
	return opts, nil
}
