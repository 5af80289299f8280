package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the seqstate configuration file
// (~/.config/seqstate/config.yaml). Every field is optional.
type Config struct {
	ModelRepository string `yaml:"model_repository"`
	ServerAddress   string `yaml:"server_address"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

// configFile is a seam for tests.
var configFile = configPath

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "seqstate", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configFile()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyLogConfig applies config file defaults to the logging flags that were
// not set explicitly.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyRepositoryConfig fills --model-repository from the config file.
func applyRepositoryConfig(c *cli.Command, cfg Config) {
	if cfg.ModelRepository != "" && !c.IsSet("model-repository") {
		modelRepository = cfg.ModelRepository
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyRepositoryConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
