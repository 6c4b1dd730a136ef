// Package config handles palinor configuration loading.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/r3d91ll/palinor/pkg/direction"
	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
	"github.com/r3d91ll/palinor/pkg/model/reference"
)

// Config is the root configuration structure.
type Config struct {
	Model      reference.Config `yaml:"model"`
	Training   TrainingConfig   `yaml:"training"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
}

// TrainingConfig holds control vector training settings.
type TrainingConfig struct {
	LayerIDs      []model.LayerID `yaml:"layer_ids"`
	MaxBatchSize  int             `yaml:"max_batch_size"`
	MaxRetries    int             `yaml:"max_retries"`
	Reduction     string          `yaml:"reduction"`     // last | mean
	Normalization string          `yaml:"normalization"` // activation | unit | none
}

// GenerationConfig holds decoding defaults.
type GenerationConfig struct {
	MaxNewTokens int     `yaml:"max_new_tokens"`
	Temperature  float64 `yaml:"temperature"` // 0 = greedy
	Seed         int64   `yaml:"seed"`
}

// Options converts the config into model generation options.
func (g GenerationConfig) Options() model.GenerateOptions {
	return model.GenerateOptions{
		MaxNewTokens: g.MaxNewTokens,
		Temperature:  g.Temperature,
		Seed:         g.Seed,
	}
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Logging     bool     `yaml:"logging"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Model: reference.DefaultConfig(),
		Training: TrainingConfig{
			LayerIDs:      []model.LayerID{-1},
			MaxBatchSize:  4,
			MaxRetries:    3,
			Reduction:     string(direction.ReduceLast),
			Normalization: string(direction.NormActivation),
		},
		Generation: GenerationConfig{
			MaxNewTokens: 32,
		},
		Storage: StorageConfig{
			DataDir: "~/.palinor",
		},
		Server: ServerConfig{
			Host:        "localhost",
			Port:        8081,
			CORSOrigins: []string{"*"},
			Logging:     true,
		},
	}
}

// Validate checks values that would otherwise fail deep inside training.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if len(c.Training.LayerIDs) == 0 {
		return perrors.Config(perrors.ErrConfigInvalid, "training.layer_ids must list at least one layer")
	}
	if _, err := model.ResolveLayers(c.Training.LayerIDs, c.Model.Layers); err != nil {
		return err
	}
	if c.Training.MaxBatchSize <= 0 {
		return perrors.Configf(perrors.ErrConfigInvalid, "training.max_batch_size must be positive, got %d", c.Training.MaxBatchSize)
	}
	if c.Training.MaxRetries < 0 {
		return perrors.Configf(perrors.ErrConfigInvalid, "training.max_retries must not be negative, got %d", c.Training.MaxRetries)
	}
	if _, err := direction.ParseReduction(c.Training.Reduction); err != nil {
		return err
	}
	if _, err := direction.ParseNormalization(c.Training.Normalization); err != nil {
		return err
	}
	if c.Generation.MaxNewTokens <= 0 {
		return perrors.Configf(perrors.ErrConfigInvalid, "generation.max_new_tokens must be positive, got %d", c.Generation.MaxNewTokens)
	}
	if c.Generation.Temperature < 0 {
		return perrors.Configf(perrors.ErrConfigInvalid, "generation.temperature must not be negative, got %g", c.Generation.Temperature)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return perrors.Configf(perrors.ErrConfigInvalid, "server.port %d is out of range", c.Server.Port)
	}
	return nil
}

// Load loads configuration from a file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, perrors.ConfigWrap(err, perrors.ErrConfigNotFound, "config file not found").
				WithContext("path", path)
		}
		return nil, perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to read config").
			WithContext("path", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, perrors.ConfigWrap(err, perrors.ErrConfigParseFailed, "failed to parse config").
			WithContext("path", path)
	}
	if err := cfg.Validate(); err != nil {
		if perr, ok := perrors.AsPalinorError(err); ok {
			perr.WithContext("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return Load(path)
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return perrors.ConfigWrap(err, perrors.ErrConfigWriteFailed, "failed to create config directory").
			WithContext("path", path)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return perrors.InternalWrap(err, perrors.ErrInternal, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return perrors.ConfigWrap(err, perrors.ErrConfigWriteFailed, "failed to write config file").
			WithContext("path", path)
	}
	return nil
}

// DefaultConfigPath returns the config file to use when --config is not given:
// palinor.yaml in the working directory if present, else in the data directory.
func DefaultConfigPath() string {
	if _, err := os.Stat("palinor.yaml"); err == nil {
		return "palinor.yaml"
	}
	return filepath.Join(ExpandHome("~/.palinor"), "palinor.yaml")
}

// InitConfig creates a default config file if it doesn't exist.
func InitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // Already exists
	}

	cfg := Default()
	return cfg.Save(path)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string { return ExpandHome(c.Storage.DataDir) }

// VectorsDir returns the directory holding vectors trained for modelName.
func (c *Config) VectorsDir(modelName string) string {
	return filepath.Join(c.DataDir(), "vectors", modelName)
}

// DatasetsDir returns the directory holding saved datasets.
func (c *Config) DatasetsDir() string { return filepath.Join(c.DataDir(), "datasets") }

// CatalogPath returns the vector catalog database path.
func (c *Config) CatalogPath() string { return filepath.Join(c.DataDir(), "palinor.db") }
