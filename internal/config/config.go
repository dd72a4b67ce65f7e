// Package config loads the settings shared by the module's command-line
// tools (mkfs, fsck, fsshell): which disk image to operate on and how
// large a freshly formatted one should be.
//
// Grounded on S1riyS-os-course-lab-4-server/internal/config's Config +
// MustLoad pattern (cleanenv.ReadConfig over a YAML file, struct tags
// carrying environment-variable fallbacks).
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the parameters a tool needs to open or format a volume.
type Config struct {
	Device        string `yaml:"device" env:"FILESYS_DEVICE" env-default:"disk.img"`
	Sectors       uint32 `yaml:"sectors" env:"FILESYS_SECTORS" env-default:"8192"`
	FormatOnStart bool   `yaml:"format_on_start" env:"FILESYS_FORMAT_ON_START" env-default:"false"`
}

// Load reads a Config from the YAML file at path, if path is non-empty;
// environment variables that are set override the file's values, and a
// field left unset by both takes its env-default. If path is empty,
// Config is populated from the environment (and defaults) alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: reading environment: %w", err)
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return &cfg, nil
}
