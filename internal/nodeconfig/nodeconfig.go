// Package nodeconfig loads the one optional on-disk config file a node
// binary consults: a YAML file supplying defaults for the handful of
// scalar flags every subcommand exposes (room, relay address, image
// mode, size caps). It sits below flags and environment variables in
// precedence — flag wins over env wins over this file wins over the
// compiled-in default — and its absence is not an error.
package nodeconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional local override file, conventionally
// "<state-dir>/config.yaml".
type Config struct {
	Room          string `yaml:"room,omitempty"`
	Relay         string `yaml:"relay,omitempty"`
	ImageMode     string `yaml:"image_mode,omitempty"`
	MaxTextBytes  int64  `yaml:"max_text_bytes,omitempty"`
	MaxImageBytes int64  `yaml:"max_image_bytes,omitempty"`
	MaxFileBytes  int64  `yaml:"max_file_bytes,omitempty"`
	DeviceName    string `yaml:"device_name,omitempty"`
}

// Load reads and parses path. A missing file returns a zero-value Config
// and no error — the file is entirely optional.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("nodeconfig: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("nodeconfig: parse %s: %w", path, err)
	}
	return c, nil
}

// StringOr returns override if non-empty, else fallback.
func StringOr(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// Int64Or returns override if non-zero, else fallback.
func Int64Or(override, fallback int64) int64 {
	if override != 0 {
		return override
	}
	return fallback
}
