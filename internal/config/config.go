// Package config loads runtime settings from an optional YAML file and
// HYBRIDCRYPTO_-prefixed environment variables, with the environment taking
// precedence. Every knob has a default, so a zero-config start works.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Log       Log       `mapstructure:"log"`
	Engine    Engine    `mapstructure:"engine"`
	Circuit   Circuit   `mapstructure:"circuit"`
	Migration Migration `mapstructure:"migration"`
	Store     Store     `mapstructure:"store"`
}

// Log configures logging.
type Log struct {
	// Level is a zerolog level name, e.g. "debug" or "info".
	Level string `mapstructure:"level"`
}

// Engine configures the external engine bridge.
type Engine struct {
	// Command is the engine executable to spawn per call.
	Command string `mapstructure:"command"`
	// Args are fixed arguments placed before the operation.
	Args []string `mapstructure:"args"`
	// CallTimeout bounds a single engine attempt.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// MaxRetries is how many times a transient failure is retried.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelay is the first retry backoff.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// Circuit configures the per-operation circuit breakers.
type Circuit struct {
	// EncryptionThreshold is the consecutive-failure trip point for
	// encryption calls.
	EncryptionThreshold uint32 `mapstructure:"encryption_threshold"`
	// SigningThreshold is the trip point for signing calls.
	SigningThreshold uint32 `mapstructure:"signing_threshold"`
	// KeyGenThreshold is the trip point for key-generation calls.
	KeyGenThreshold uint32 `mapstructure:"keygen_threshold"`
	// ResetTimeout is how long an open circuit waits before probing.
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// Migration configures bulk migration runs.
type Migration struct {
	// Workers bounds migration concurrency.
	Workers int `mapstructure:"workers"`
	// RatePerSecond paces record starts; zero means unpaced.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	// HaltOnError stops a run at the first failed record.
	HaltOnError bool `mapstructure:"halt_on_error"`
}

// Store configures record persistence.
type Store struct {
	// MongoURI is the MongoDB connection string. Empty selects the
	// in-memory store.
	MongoURI string `mapstructure:"mongo_uri"`
	// Database is the MongoDB database name.
	Database string `mapstructure:"database"`
	// Collection is the MongoDB collection name.
	Collection string `mapstructure:"collection"`
}

// Load reads configuration from path, or from hybridcrypto.yaml in the
// working directory when path is empty. A missing default file is not an
// error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HYBRIDCRYPTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("hybridcrypto")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hybridcrypto")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("engine.command", "qsengine")
	v.SetDefault("engine.call_timeout", 10*time.Second)
	v.SetDefault("engine.max_retries", 2)
	v.SetDefault("engine.retry_base_delay", 100*time.Millisecond)

	v.SetDefault("circuit.encryption_threshold", 5)
	v.SetDefault("circuit.signing_threshold", 3)
	v.SetDefault("circuit.keygen_threshold", 2)
	v.SetDefault("circuit.reset_timeout", 30*time.Second)

	v.SetDefault("migration.workers", 4)
	v.SetDefault("migration.rate_per_second", 0)
	v.SetDefault("migration.halt_on_error", false)

	v.SetDefault("store.database", "hybridcrypto")
	v.SetDefault("store.collection", "records")
}
