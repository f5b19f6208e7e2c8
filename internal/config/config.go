// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Listen        string        `yaml:"listen"`
	Paths         []string      `yaml:"paths"`
	MinimumFreeGB int           `yaml:"minimumFreeGB"`
	Owner         string        `yaml:"owner"`
	RoyaltyRate   float64       `yaml:"royaltyRate"`
	SuperAdmin    string        `yaml:"superAdmin"`
	GCIntervalMin int           `yaml:"gcIntervalMinutes"`
	Debug         bool          `yaml:"debug"`
}

// Load reads path and fills in defaults for anything left unset.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config: %w", err)
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}

	conf.applyDefaults()
	return conf, nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var conf Config
	conf.applyDefaults()
	return conf
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "localhost:4280"
	}
	if len(c.Paths) == 0 {
		c.Paths = []string{"./wttpd-data"}
	}
	if c.GCIntervalMin == 0 {
		c.GCIntervalMin = 5
	}
}
