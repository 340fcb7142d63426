package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names.
const (
	EnvPrefix     = "CALCSTORE_"
	EnvConfigFile = "CALCSTORE_CONFIG"
)

// legacyEnv maps unprefixed variables from earlier deployments to config keys.
var legacyEnv = map[string]string{ //nolint:gochecknoglobals // static lookup table
	"MONGODB_URI": "mongodb_uri",
	"PORT":        "port",
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: dotenv %s: %w", ErrLoadConfig, f, err)
		}
	}
	return nil
}

// Load builds a Config by layering, from low to high precedence:
//  1. defaults (New)
//  2. YAML file if CALCSTORE_CONFIG is set
//  3. MONGODB_URI and PORT
//  4. CALCSTORE_* variables
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	legacy := env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// CALCSTORE_MAX_LIST_LIMIT -> max_list_limit; underscores are kept to
	// match the flat koanf tags.
	prefixed := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Port < 1 || c.Port > 65535:
		return invalid("port must be between 1 and 65535, got %d", c.Port)
	case c.StorageDriver != DriverMongo && c.StorageDriver != DriverMemory:
		return invalid("storage_driver must be %q or %q, got %q", DriverMongo, DriverMemory, c.StorageDriver)
	case c.StorageDriver == DriverMongo && strings.TrimSpace(c.MongoURI) == "":
		return invalid("mongodb_uri must not be empty")
	case strings.TrimSpace(c.Collection) == "":
		return invalid("collection must not be empty")
	case c.ConnectTimeoutMS <= 0 || c.StorageTimeoutMS <= 0:
		return invalid("timeouts must be positive")
	case c.DefaultListLimit < 1:
		return invalid("default_list_limit must be positive")
	case c.MaxListLimit < c.DefaultListLimit:
		return invalid("max_list_limit (%d) must be >= default_list_limit (%d)", c.MaxListLimit, c.DefaultListLimit)
	case c.MaxBodyBytes <= 0:
		return invalid("max_body_bytes must be positive")
	case c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst < 1):
		return invalid("ratelimit_rps and ratelimit_burst must be positive when rate limiting is enabled")
	}
	return nil
}
