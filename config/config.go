// Package config handles lilium.toml project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/lilium/vm"
)

// Filename is the name of the project file looked up by FindAndLoad.
const Filename = "lilium.toml"

// ErrInvalid is returned for configurations that load but cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config represents a lilium.toml project configuration.
type Config struct {
	Project Project      `toml:"project"`
	VM      VMConfig     `toml:"vm"`
	Server  ServerConfig `toml:"server"`
	Cache   CacheConfig  `toml:"cache"`
	Log     LogConfig    `toml:"log"`

	// Dir is the directory containing the lilium.toml file (set at load time).
	// Empty for the built-in defaults.
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// VMConfig sizes threads created by the CLI and the service.
type VMConfig struct {
	Frames    int    `toml:"frames"`
	MaxFrames int    `toml:"max_frames"`
	StepLimit uint64 `toml:"step_limit"`
}

// ServerConfig configures `lilium serve`.
type ServerConfig struct {
	Addr    string `toml:"addr"`
	Workers int    `toml:"workers"`
}

// CacheConfig configures the compiled module cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no lilium.toml exists.
func Default() *Config {
	return &Config{
		VM: VMConfig{
			Frames: vm.DefaultFrames,
		},
		Server: ServerConfig{
			Addr:    "127.0.0.1:7420",
			Workers: 4,
		},
		Cache: CacheConfig{
			Path: filepath.Join(".lilium", "cache.db"),
		},
	}
}

// Load parses a lilium.toml file from the given directory. Keys missing from
// the file keep their default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, Filename)
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

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a lilium.toml file, then loads
// it. When none is found the defaults are returned.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, Filename)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.VM.Frames < 1 {
		return fmt.Errorf("%w: vm.frames must be at least 1, got %d", ErrInvalid, c.VM.Frames)
	}
	if c.VM.MaxFrames != 0 && c.VM.MaxFrames < c.VM.Frames {
		return fmt.Errorf("%w: vm.max_frames (%d) is below vm.frames (%d)", ErrInvalid, c.VM.MaxFrames, c.VM.Frames)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("%w: server.workers must be at least 1, got %d", ErrInvalid, c.Server.Workers)
	}
	return nil
}

// VMOptions returns the thread options described by the [vm] section.
func (c *Config) VMOptions() []vm.Option {
	opts := []vm.Option{vm.WithFrames(c.VM.Frames)}
	if c.VM.MaxFrames > 0 {
		opts = append(opts, vm.WithMaxFrames(c.VM.MaxFrames))
	}
	if c.VM.StepLimit > 0 {
		opts = append(opts, vm.WithStepLimit(c.VM.StepLimit))
	}
	return opts
}

// Resolve makes a project-relative path absolute. Absolute paths and the
// defaults (no project directory) are returned unchanged.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// CachePath returns the location of the module cache database.
func (c *Config) CachePath() string {
	return c.Resolve(c.Cache.Path)
}

// EntryPath returns the project's entry source file, or "" if none is set.
func (c *Config) EntryPath() string {
	return c.Resolve(c.Project.Entry)
}
