package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
)

// Load reads path as YAML and applies BOTPIPE_* environment overrides. When
// the file does not exist only the environment is read. The result is
// validated.
func Load(path string) (*Config, error) {
	return load(path, &Config{})
}

// LoadWithDefaults is Load starting from Defaults instead of a zero Config.
func LoadWithDefaults(path string) (*Config, error) {
	base := Defaults()
	return load(path, &base)
}

func load(path string, cfg *Config) (*Config, error) {
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			return validated(cfg)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	// fallback to env vars if file not found
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	return validated(cfg)
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	return cfg, nil
}
