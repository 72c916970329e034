// Package config loads service definitions for the harness from TOML files.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Adelost/harness/internal/logger"
	"github.com/Adelost/harness/internal/service"
)

// Config is the top-level file structure:
//
//	env = ["SHARED=1"]
//	journal = ".harness/journal.db"
//	log_level = "info"
//
//	[log.file]
//	dir = "logs"
//
//	[[services]]
//	name = "api"
//	command = "./bin/api"
//	args = ["--port", "4321"]
//	health_url = "http://127.0.0.1:4321/health"
//	start_timeout = "15s"
//	[services.ready]
//	signal = "Ready on port"
type Config struct {
	Env      []string       `mapstructure:"env"`       // harness-wide "K=V" overrides
	Journal  string         `mapstructure:"journal"`   // spawn journal path, empty disables
	LogLevel string         `mapstructure:"log_level"` // harness's own slog level
	Log      logger.Config  `mapstructure:"log"`       // default output capture for all services
	Services []service.Spec `mapstructure:"services"`
}

// Load reads and validates a TOML config file. Services without their own
// capture config inherit the top-level one.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	for i := range c.Services {
		if !c.Services[i].Log.Enabled() {
			c.Services[i].Log = c.Log
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every service spec and rejects duplicate names.
func (c *Config) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("config defines no services")
	}
	seen := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate service name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
