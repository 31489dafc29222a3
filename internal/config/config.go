// Package config loads worker configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Admin     AdminConfig     `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
}

type EmbeddingConfig struct {
	Model string `yaml:"model"`
	// Dimension truncates or pads model vectors when set; 0 keeps the
	// model's native width.
	Dimension int `yaml:"dimension"`
	// SkipModelLoad starts the worker without probing the model. Searches
	// run on the text branch until initModel is called.
	SkipModelLoad bool `yaml:"skip_model_load"`
}

type AdminConfig struct {
	// Addr enables the HTTP admin endpoint when non-empty, e.g.
	// "127.0.0.1:4600".
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Storage:   StorageConfig{DataDir: defaultDataDir()},
		Ollama:    OllamaConfig{BaseURL: "http://localhost:11434"},
		Embedding: EmbeddingConfig{Model: "nomic-embed-text"},
		Log:       LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".tarn")
}

// Load reads configuration in precedence order: defaults, then the YAML file
// at path, then TARN_* environment variables. An empty path means the default
// location ($XDG_CONFIG_HOME/tarn/config.yaml), where a missing file is fine;
// an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file; defaults plus env.
	default:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tarn", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "tarn.yaml"
	}
	return filepath.Join(home, ".config", "tarn", "config.yaml")
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("TARN_DATA_DIR", &cfg.Storage.DataDir)
	setString("TARN_OLLAMA_URL", &cfg.Ollama.BaseURL)
	setString("TARN_EMBED_MODEL", &cfg.Embedding.Model)
	setString("TARN_ADMIN_ADDR", &cfg.Admin.Addr)
	setString("TARN_ADMIN_TOKEN", &cfg.Admin.Token)
	setString("TARN_LOG_LEVEL", &cfg.Log.Level)

	if v := os.Getenv("TARN_EMBED_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Embedding.Dimension = n
		}
	}
	if v := os.Getenv("TARN_SKIP_MODEL_LOAD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Embedding.SkipModelLoad = b
		}
	}
}
