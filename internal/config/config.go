// Package config loads eventradar configuration from layered sources using
// koanf: built-in defaults, an optional YAML file, then EVENTRADAR_*
// environment variables. A .env file in the working directory is loaded into
// the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/nvandessel/eventradar/internal/encoder"
	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/logging"
	"github.com/nvandessel/eventradar/internal/projection"
	"github.com/nvandessel/eventradar/internal/store"
	"github.com/nvandessel/eventradar/internal/validation"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "EVENTRADAR_"

	// ConfigPathEnvVar names a config file when --config is not given.
	ConfigPathEnvVar = EnvPrefix + "CONFIG"

	// DefaultConfigFile is looked up in the working directory.
	DefaultConfigFile = "eventradar.yaml"
)

// Config is the complete eventradar configuration.
type Config struct {
	Data       DataConfig       `koanf:"data" yaml:"data"`
	Index      IndexConfig      `koanf:"index" yaml:"index"`
	Projection ProjectionConfig `koanf:"projection" yaml:"projection"`
	Encoder    encoder.Config   `koanf:"encoder" yaml:"encoder"`
	Ranking    RankingConfig    `koanf:"ranking" yaml:"ranking"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `koanf:"metrics" yaml:"metrics"`
}

// DataConfig locates on-disk state.
type DataConfig struct {
	Dir string `koanf:"dir" yaml:"dir" validate:"required"`
}

// IndexConfig selects the persistence backend of the embedding index.
type IndexConfig struct {
	Backend store.Backend `koanf:"backend" yaml:"backend" validate:"oneof=file sqlite"`

	// Retain is the number of file snapshots kept on disk.
	Retain int `koanf:"retain" yaml:"retain" validate:"gte=1"`

	// AllowEmptyOnLoadError starts with an empty index when the persisted
	// state cannot be read, instead of failing.
	AllowEmptyOnLoadError bool `koanf:"allow_empty_on_load_error" yaml:"allow_empty_on_load_error"`
}

// ProjectionConfig describes the two projection towers.
type ProjectionConfig struct {
	Shape           projection.Shape `koanf:"shape" yaml:"shape"`
	EventCheckpoint string           `koanf:"event_checkpoint" yaml:"event_checkpoint"`
	UserCheckpoint  string           `koanf:"user_checkpoint" yaml:"user_checkpoint"`
}

// RankingConfig bounds recommendation requests.
type RankingConfig struct {
	DefaultTopK   int           `koanf:"default_top_k" yaml:"default_top_k" validate:"gte=1"`
	MaxTopK       int           `koanf:"max_top_k" yaml:"max_top_k" validate:"gte=1"`
	SearchTimeout time.Duration `koanf:"search_timeout" yaml:"search_timeout" validate:"gt=0"`
	SaveTimeout   time.Duration `koanf:"save_timeout" yaml:"save_timeout" validate:"gt=0"`
	LoadTimeout   time.Duration `koanf:"load_timeout" yaml:"load_timeout" validate:"gt=0"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" yaml:"format" validate:"oneof=json console"`
}

// Logging converts to the logging package's config, writing to stderr.
func (c LoggingConfig) Logging() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format, Output: os.Stderr}
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// File receives the metrics in text exposition format when non-empty.
	File string `koanf:"file" yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := store.DefaultDataDir()
	if err != nil {
		dir = ".eventradar"
	}
	shape := projection.DefaultShape()
	return &Config{
		Data: DataConfig{Dir: dir},
		Index: IndexConfig{
			Backend: store.BackendFile,
			Retain:  store.DefaultRetain,
		},
		Projection: ProjectionConfig{Shape: shape},
		Encoder: encoder.Config{
			Backend: encoder.BackendOllama,
			Dim:     shape.Input,
			Ollama:  encoder.DefaultOllamaConfig(),
		},
		Ranking: RankingConfig{
			DefaultTopK:   10,
			MaxTopK:       100,
			SearchTimeout: 5 * time.Second,
			SaveTimeout:   30 * time.Second,
			LoadTimeout:   30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or the
// file found by FindConfigFile when path is empty) and the environment.
// An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = FindConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform(k.Keys())), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FindConfigFile returns the file named by EVENTRADAR_CONFIG, else
// eventradar.yaml in the working directory, else "".
func FindConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// envTransform maps EVENTRADAR_ENCODER_OLLAMA_BATCH_SIZE to
// encoder.ollama.batch_size. Key segments contain underscores, so the
// mapping is looked up from the known keys instead of split on "_".
// Unknown variables map to "" and are skipped.
func envTransform(keys []string) func(string) string {
	known := make(map[string]string, len(keys))
	for _, key := range keys {
		known[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return func(name string) string {
		return known[strings.TrimPrefix(name, EnvPrefix)]
	}
}

// Validate checks field constraints and the dimension chain
// encoder -> projection input.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	var problems []error
	if c.Encoder.Dim != c.Projection.Shape.Input {
		problems = append(problems, errs.Invalid("encoder.dim",
			fmt.Sprintf("must equal projection.shape.input_dim (%d), got %d", c.Projection.Shape.Input, c.Encoder.Dim)))
	}
	if c.Ranking.DefaultTopK > c.Ranking.MaxTopK {
		problems = append(problems, errs.Invalid("ranking.default_top_k",
			fmt.Sprintf("must not exceed ranking.max_top_k (%d)", c.Ranking.MaxTopK)))
	}
	return errors.Join(problems...)
}

// IndexDim is the dimension of stored event vectors.
func (c *Config) IndexDim() int {
	return c.Projection.Shape.Output
}

// StorePath returns the directory holding index state.
func (c *Config) StorePath() string {
	return filepath.Clean(c.Data.Dir)
}

// Default checkpoint file names under <data.dir>/weights.
const (
	EventCheckpointFile = "event_tower.safetensors"
	UserCheckpointFile  = "user_tower.safetensors"
)

// CheckpointPaths returns the configured projection checkpoints, defaulting
// to the weights directory under the data directory.
func (c *Config) CheckpointPaths() (event, user string) {
	event, user = c.Projection.EventCheckpoint, c.Projection.UserCheckpoint
	if event == "" {
		event = filepath.Join(c.StorePath(), "weights", EventCheckpointFile)
	}
	if user == "" {
		user = filepath.Join(c.StorePath(), "weights", UserCheckpointFile)
	}
	return event, user
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}
