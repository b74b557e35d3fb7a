// Package config loads the engine's static configuration: logging level,
// data-model binding default, the HTTP/WS event I/O processor listen
// addresses, and expression-cache sizing, decoded from TOML via
// BurntSushi/toml.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// EngineConfig is the top-level decoded document.
type EngineConfig struct {
	Logging     LoggingConfig     `toml:"logging"`
	DataModel   DataModelConfig   `toml:"data_model"`
	HTTPDispatch HTTPDispatchConfig `toml:"http_dispatch"`
	WSDispatch  WSDispatchConfig  `toml:"ws_dispatch"`
	Scripting   ScriptingConfig   `toml:"scripting"`
}

type LoggingConfig struct {
	Level string `toml:"level"` // "debug" | "info" | "warn" | "error"
}

type DataModelConfig struct {
	// DefaultBinding is used when a document omits the binding attribute;
	// W3C defaults to "early" (§5.3).
	DefaultBinding string `toml:"default_binding"`
}

type HTTPDispatchConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type WSDispatchConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type ScriptingConfig struct {
	ProgramCacheSize int `toml:"program_cache_size"`
}

// Default returns the engine's built-in configuration, used when no
// config file is supplied.
func Default() EngineConfig {
	return EngineConfig{
		Logging:     LoggingConfig{Level: "info"},
		DataModel:   DataModelConfig{DefaultBinding: "early"},
		HTTPDispatch: HTTPDispatchConfig{Enabled: false, Addr: ":8080"},
		WSDispatch:  WSDispatchConfig{Enabled: false, Addr: ":8081"},
		Scripting:   ScriptingConfig{ProgramCacheSize: 256},
	}
}

// Load decodes an EngineConfig from a TOML file at path, starting from
// Default() so a partial file only overrides what it mentions.
func Load(path string) (EngineConfig, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return EngineConfig{}, fmt.Errorf("config: %s: unrecognised keys: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Validate checks the decoded configuration for internally-consistent
// values.
func (c EngineConfig) Validate() error {
	switch c.DataModel.DefaultBinding {
	case "early", "late":
	default:
		return fmt.Errorf("config: data_model.default_binding must be \"early\" or \"late\", got %q", c.DataModel.DefaultBinding)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	if c.Scripting.ProgramCacheSize <= 0 {
		return fmt.Errorf("config: scripting.program_cache_size must be positive, got %d", c.Scripting.ProgramCacheSize)
	}
	return nil
}
