// Package config handles bcir.toml tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/bcir/asm"
	"github.com/chazu/bcir/format"
)

// FileName is the name FindAndLoad looks for.
const FileName = "bcir.toml"

// Config represents a bcir.toml file.
type Config struct {
	Assembler Assembler `toml:"assembler"`
	Profiles  Profiles  `toml:"profiles"`
	Validate  Validate  `toml:"validate"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the bcir.toml file (set at load time).
	Dir string `toml:"-"`
}

// Assembler configures the fixed-point layout.
type Assembler struct {
	MaxPasses int `toml:"max-passes"`
}

// Profiles selects the default profile and extra profile tables.
type Profiles struct {
	// Default is the tag used when none is given. Empty means the
	// container's version number decides.
	Default string   `toml:"default"`
	Dirs    []string `toml:"dirs"`
}

// Validate configures how validation results are judged.
type Validate struct {
	FailOnWarning bool `toml:"fail-on-warning"`
}

// Log configures library logging.
type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Default returns the configuration used when no bcir.toml exists.
func Default() *Config {
	return &Config{
		Assembler: Assembler{MaxPasses: asm.DefaultMaxPasses},
		Log:       Log{Level: "warning"},
	}
}

// Load parses a bcir.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if c.Assembler.MaxPasses < 0 {
		return nil, fmt.Errorf("%s: assembler.max-passes must not be negative, got %d", path, c.Assembler.MaxPasses)
	}
	if c.Assembler.MaxPasses == 0 {
		c.Assembler.MaxPasses = asm.DefaultMaxPasses
	}
	if _, err := Verbosity(c.Log.Level); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a bcir.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ProfileDirPaths returns absolute paths for the configured profile directories.
func (c *Config) ProfileDirPaths() []string {
	var paths []string
	for _, d := range c.Profiles.Dirs {
		if filepath.IsAbs(d) {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(c.Dir, d))
	}
	return paths
}

// LoadProfiles parses and registers every profile table in the configured
// directories. It returns the tags it registered.
func (c *Config) LoadProfiles() ([]string, error) {
	var tags []string
	for _, dir := range c.ProfileDirPaths() {
		profiles, err := format.LoadDir(dir)
		if err != nil {
			return tags, err
		}
		for _, p := range profiles {
			if err := format.Register(p); err != nil {
				return tags, fmt.Errorf("%s: %w", dir, err)
			}
			tags = append(tags, p.Tag)
		}
	}
	return tags, nil
}

// AsmOptions returns the assembler options this configuration selects.
func (c *Config) AsmOptions() asm.Options {
	return asm.Options{MaxPasses: c.Assembler.MaxPasses}
}

// Verbosity maps a level name to a commonlog verbosity.
func Verbosity(level string) (int, error) {
	switch strings.ToLower(level) {
	case "none", "off":
		return -4, nil
	case "critical":
		return -3, nil
	case "error":
		return -2, nil
	case "", "warning", "warn":
		return -1, nil
	case "notice":
		return 0, nil
	case "info":
		return 1, nil
	case "debug":
		return 2, nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}
