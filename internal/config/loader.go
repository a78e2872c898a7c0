package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. HEF_FEED_SYMBOL.
const EnvPrefix = "HEF"

// Load merges the TOML file at path (skipped when path is empty) on top of
// the defaults, loads .env if present, and applies HEF_* overrides. The result
// has not been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	return &cfg, nil
}
