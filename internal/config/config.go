// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Content struct {
		Root string `yaml:"root"`
	} `yaml:"content"`

	Provider struct {
		Name           string `yaml:"name"`  // openai, mock
		Model          string `yaml:"model"` // chat model name
		EmbeddingModel string `yaml:"embedding_model"`
		APIKeyEnv      string `yaml:"api_key_env"` // env var holding the key
	} `yaml:"provider"`

	Checkpoint struct {
		Backend string `yaml:"backend"` // git, snapshot
	} `yaml:"checkpoint"`

	Scheduler struct {
		MaxConcurrency int      `yaml:"max_concurrency"`
		StopOnError    bool     `yaml:"stop_on_error"`
		Lanes          []string `yaml:"lanes"` // swarm specialization lanes
	} `yaml:"scheduler"`

	Environment string `yaml:"environment"` // dev, prod
	LogLevel    string `yaml:"log_level"`   // debug, info, warn, error
}

// Default returns a configuration usable without any config file.
func Default() *Config {
	var cfg Config
	cfg.Database.Path = ".chisel/db"
	cfg.Content.Root = ".chisel/content"
	cfg.Provider.Name = "mock"
	cfg.Provider.Model = "gpt-4o-mini"
	cfg.Provider.EmbeddingModel = "text-embedding-3-small"
	cfg.Provider.APIKeyEnv = "OPENAI_API_KEY"
	cfg.Checkpoint.Backend = "snapshot"
	cfg.Scheduler.MaxConcurrency = runtime.NumCPU()
	cfg.Scheduler.Lanes = []string{"correctness", "performance", "style"}
	cfg.Environment = "dev"
	cfg.LogLevel = "info"
	return &cfg
}

func getConfigPath() string {
	if path := os.Getenv("CHISEL_CONFIG"); path != "" {
		return path
	}
	return ".chisel/config.yaml"
}

// Load reads configuration from path, falling back to defaults for
// anything the file does not set. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getConfigPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Scheduler.MaxConcurrency <= 0 {
		cfg.Scheduler.MaxConcurrency = runtime.NumCPU()
	}
	if len(cfg.Scheduler.Lanes) == 0 {
		cfg.Scheduler.Lanes = []string{"correctness", "performance", "style"}
	}

	return cfg, nil
}
