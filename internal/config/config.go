// Package config loads tool-wide defaults from the environment, optionally
// seeded from a .env file next to the working directory.
package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the environment-driven defaults for the CLI
type Config struct {
	// ProjectDir is where project YAML files live
	ProjectDir string `env:"PACKAGINGTOOLS_PROJECT_DIR" envDefault:"projects"`

	// StoreDir is the secure store root
	StoreDir string `env:"PACKAGINGTOOLS_STORE_DIR" envDefault:".securestore"`

	// OutputDir is the default artifact output directory
	OutputDir string `env:"PACKAGINGTOOLS_OUTPUT_DIR" envDefault:"dist"`

	// LogLevel is the default logrus level name
	LogLevel string `env:"PACKAGINGTOOLS_LOG_LEVEL" envDefault:"info"`
}

// Load reads .env (when present) and parses the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment from .env")
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
