// Package config loads the control plane server's configuration from a
// TOML file, then layers environment-variable overrides on top, the way
// the teacher's own per-service configs load from disk before their
// runtime env-derived fields are filled in.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml"
)

// ServerConfig is the control plane process's configuration. Unlike the
// teacher's three-way split (manager/proplet/proxy), there is exactly one
// process here, so one config struct covers it.
// Fields intentionally carry no envDefault tag: Default() already
// supplies every default, and env.Parse only needs to override an
// already-populated struct, not repopulate it — envDefault would
// otherwise stomp a value the TOML file just set.
type ServerConfig struct {
	Bind          string        `toml:"bind" env:"CONTROLPLANE_BIND"`
	DebugBind     string        `toml:"debug_bind" env:"CONTROLPLANE_DEBUG_BIND"`
	LogLevel      string        `toml:"log_level" env:"CONTROLPLANE_LOG_LEVEL"`
	ShutdownGrace time.Duration `toml:"shutdown_grace" env:"CONTROLPLANE_SHUTDOWN_GRACE"`
}

// Default returns a ServerConfig with production-safe defaults, before
// any file or environment overlay is applied. Bind carries no default:
// the event stream listener address is required, from a flag, TOML file,
// or environment variable.
func Default() ServerConfig {
	return ServerConfig{
		DebugBind:     "localhost:0",
		LogLevel:      "info",
		ShutdownGrace: 5 * time.Second,
	}
}

// Load reads path (if non-empty and present) as TOML into cfg, then
// applies environment-variable overrides. A missing path is not an
// error — the process may be configured entirely by flags and env.
func Load(path string) (ServerConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return ServerConfig{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			tree, err := toml.Load(string(data))
			if err != nil {
				return ServerConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
			}

			if err := tree.Unmarshal(&cfg); err != nil {
				return ServerConfig{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: parse environment: %w", err)
	}

	return cfg, nil
}
