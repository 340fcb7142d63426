// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New returns a Config populated with defaults.
// - Load layers defaults, an optional YAML file and the environment.
// - Errors returned by Load wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"strconv"
	"time"
)

// Storage drivers understood by the service.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Port is the HTTP listen port.
	Port int `koanf:"port"`

	// StorageDriver is "mongo" or "memory".
	StorageDriver string `koanf:"storage_driver"`

	// MongoURI is the document store connection string.
	MongoURI string `koanf:"mongodb_uri"`

	// Database overrides the database named in MongoURI.
	Database string `koanf:"database"`

	// Collection holds calculation documents.
	Collection string `koanf:"collection"`

	// ConnectTimeoutMS bounds the startup connect and ping.
	ConnectTimeoutMS int `koanf:"connect_timeout_ms"`

	// StorageTimeoutMS bounds every storage call made while serving a request.
	StorageTimeoutMS int `koanf:"storage_timeout_ms"`

	// DefaultListLimit is used when ?limit is absent or unparseable.
	DefaultListLimit int `koanf:"default_list_limit"`

	// MaxListLimit caps GET /api/calculations?limit.
	MaxListLimit int `koanf:"max_list_limit"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// Rate limiting, per client key.
	RateLimitEnabled   bool    `koanf:"ratelimit_enabled"`
	RateLimitRPS       float64 `koanf:"ratelimit_rps"`
	RateLimitBurst     int     `koanf:"ratelimit_burst"`
	RateLimitKeyHeader string  `koanf:"ratelimit_key_header"`
	RateLimitTrustXFF  bool    `koanf:"ratelimit_trust_xff"`

	// RateStatsRedisAddr enables Redis allowed/denied counters when set.
	RateStatsRedisAddr string `koanf:"ratelimit_stats_redis_addr"`
	RateStatsPrefix    string `koanf:"ratelimit_stats_prefix"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Port:             5000,
		StorageDriver:    DriverMongo,
		MongoURI:         "mongodb://localhost:27017/calculations",
		Collection:       "calculations",
		ConnectTimeoutMS: 10_000,
		StorageTimeoutMS: 5_000,
		DefaultListLimit: 10,
		MaxListLimit:     100,
		MaxBodyBytes:     100 << 10,
		RateLimitRPS:     50,
		RateLimitBurst:   100,
		RateStatsPrefix:  "calcstore:ratelimit",
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ConnectTimeout returns ConnectTimeoutMS as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// StorageTimeout returns StorageTimeoutMS as a duration.
func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.StorageTimeoutMS) * time.Millisecond
}
