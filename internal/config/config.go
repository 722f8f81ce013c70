// Package config loads the optional TOML tunables file that adjusts the
// interpreter's store capacities, GC policy, and logging without touching
// code.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// ErrRead is returned (wrapped) when the configuration file cannot be read
// from disk.
var ErrRead = errors.New("could not read config file")

// ErrParse is returned (wrapped) when the configuration file is not valid
// TOML or has a field of the wrong type.
var ErrParse = errors.New("could not parse config file")

// VM holds the [vm] table: capacity hints for the interpreter's growable
// stores. Zero values mean "use the interpreter's built-in default".
type VM struct {
	StackCapacity int  `toml:"stack_capacity"`
	EnvCapacity   int  `toml:"env_capacity"`
	FrameCapacity int  `toml:"frame_capacity"`
	DisableGC     bool `toml:"disable_gc"`
}

// Logging holds the [logging] table.
type Logging struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Config is the root of bvm.toml.
type Config struct {
	VM      VM      `toml:"vm"`
	Logging Logging `toml:"logging"`
}

// Default returns the configuration used when no file is given: GC disabled
// for the run's duration (environments allocated by the dispatch loop stay
// reachable until the run ends, so a mid-run collection reclaims little) and
// info-level logging.
func Default() Config {
	return Config{
		VM:      VM{DisableGC: true},
		Logging: Logging{Level: "info"},
	}
}

// Load reads and parses path into a Config, falling back to Default for any
// field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(ErrRead, err.Error())
	}

	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(ErrParse, err.Error())
	}

	return cfg, nil
}
