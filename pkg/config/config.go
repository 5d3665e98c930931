package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the storage engine's tunables.
type Config struct {
	// DataDir is where the redo log lives.
	DataDir string `yaml:"data_dir" validate:"required"`

	// BlockSlotCapacity is the number of tuple slots per block.
	BlockSlotCapacity uint32 `yaml:"block_slot_capacity" validate:"gte=16,lte=65536"`

	// RedoLog configures the redo log writer.
	RedoLog RedoLogConfig `yaml:"redo_log"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// EnableMetrics attaches a prometheus registry to the engine.
	EnableMetrics bool `yaml:"enable_metrics"`
}

// RedoLogConfig configures the redo log writer.
type RedoLogConfig struct {
	Enabled      bool `yaml:"enabled"`
	Compress     bool `yaml:"compress"`
	SyncOnAppend bool `yaml:"sync_on_append"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		DataDir:           "data",
		BlockSlotCapacity: 256,
		RedoLog:           RedoLogConfig{Enabled: true, Compress: true},
		LogLevel:          "info",
		EnableMetrics:     true,
	}
}

// Load reads and validates a YAML config file, applying defaults for
// omitted fields.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration's struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
