// Package trackercfg loads the build-time policy knobs a Tracker is
// constructed with from a TOML file, in the teacher's configuration idiom.
package trackercfg

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/gitrdm/trackercore/pkg/tracker"
)

// Config is the on-disk shape of a tracker's build-time policy. The
// documented defaults are those of Default(), not the zero value: Load
// starts from Default(), so a field the file omits keeps its default.
type Config struct {
	// DuplicateLocation selects how a re-declared location id is handled:
	// "merge" (default) or "rename". See DESIGN.md's Open Question (a).
	DuplicateLocation string `toml:"duplicate_location"`

	// ProgressiveWrap is decoded from the file but is not passed to the
	// Tracker: staged items wrap by default (tracker.NewItem) unless their
	// own declaration sets wrap, whatever this field holds.
	ProgressiveWrap bool `toml:"progressive_wrap"`

	// LogLevel is a zap level name ("debug", "info", "warn", "error").
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration a Tracker uses when none is loaded.
func Default() Config {
	return Config{DuplicateLocation: "merge", ProgressiveWrap: true, LogLevel: "info"}
}

// Load reads and parses a TOML config file at path, filling in Default()'s
// values for anything the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("trackercfg: reading %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("trackercfg: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// DuplicatePolicy translates the config's string policy name into a
// tracker.DuplicatePolicy, defaulting to Merge for any unrecognized value.
func (c Config) DuplicatePolicy() tracker.DuplicatePolicy {
	if c.DuplicateLocation == "rename" {
		return tracker.PolicyRename
	}
	return tracker.PolicyMerge
}
