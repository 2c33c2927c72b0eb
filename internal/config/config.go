// Package config provides the configuration structure for tolatu.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override values from the configuration file.
const (
	EnvAPIURL    = "TOLATU_API_URL"
	EnvAddr      = "TOLATU_ADDR"
	EnvRedisAddr = "TOLATU_REDIS_ADDR"
	EnvNATSURL   = "TOLATU_NATS_URL"
)

// Audio store backends.
const (
	StoreMemory = "memory"
	StoreNATS   = "nats"
)

// Default values.
const (
	defaultAddr             = ":8080"
	defaultTimeoutSeconds   = 120
	defaultPreferredLocale  = "Nigeria"
	defaultSessionTTL       = 30
	defaultMaxImageBytes    = 10 << 20
	defaultLongInputRunes   = 200
	defaultAudioURLPrefix   = "/audio"
	defaultCacheTTL         = 60
	defaultCachePrefix      = "tolatu:voices"
	defaultAudioBucket      = "TOLATU_AUDIO"
	defaultSynthesisSubject = "tolatu.synthesis.requested"
)

var defaultEmbeddedAudioPaths = []string{
	"audio",
	"data.audio",
	"audio_base64",
	"data",
	"choices.0.message.audio.data",
}

var (
	// ErrMissingBaseURL indicates that no backend base URL was configured.
	ErrMissingBaseURL = errors.New("backend base URL is not defined")
	// ErrUnknownAudioStore indicates an unsupported audio store backend.
	ErrUnknownAudioStore = errors.New("unknown audio store")
	// ErrNATSURLEmpty indicates that NATS is required but has no URL.
	ErrNATSURLEmpty = errors.New("nats url cannot be empty")
)

// APIConfig describes the external speech backend.
type APIConfig struct {
	BaseURL            string   `toml:"base_url"`
	TimeoutSeconds     int      `toml:"timeout_seconds"`
	PreferredLocale    string   `toml:"preferred_locale"`
	EmbeddedAudioPaths []string `toml:"embedded_audio_paths"`
}

// Timeout returns the HTTP timeout for backend calls.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ServerConfig holds the settings of the local web server.
type ServerConfig struct {
	Addr             string `toml:"addr"`
	SessionTTLMinute int    `toml:"session_ttl_minutes"`
	MaxImageBytes    int64  `toml:"max_image_bytes"`
	LongInputRunes   int    `toml:"long_input_runes"`
}

// SessionTTL returns how long an idle session is kept.
func (s ServerConfig) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLMinute) * time.Minute
}

// AudioConfig selects where materialized audio is kept.
type AudioConfig struct {
	Store     string `toml:"store"`
	URLPrefix string `toml:"url_prefix"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                bool   `toml:"enabled"`
	URL                    string `toml:"url"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	SynthesisSubject       string `toml:"synthesis_subject"`
}

// CacheConfig configures the optional Redis voice catalog cache.
type CacheConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLMinutes    int    `toml:"ttl_minutes"`
	Prefix        string `toml:"prefix"`
}

// Enabled reports whether a Redis address was configured.
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// TTL returns the lifetime of a cached catalog.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	API    APIConfig    `toml:"api"`
	Server ServerConfig `toml:"server"`
	Audio  AudioConfig  `toml:"audio"`
	NATS   NATSConfig   `toml:"nats"`
	Cache  CacheConfig  `toml:"cache"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration through the central configurator, applies
// environment overrides and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	dotenvErr := godotenv.Load()
	if dotenvErr != nil {
		log.Info("No .env file found, using process environment")
	}

	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		log.Warn("Configurator unavailable, continuing with defaults: %v", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFile parses a TOML file, applies environment overrides and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes TOML data and fills in defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks the conditions required to start.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("%w: set api.base_url or %s", ErrMissingBaseURL, EnvAPIURL)
	}

	switch c.Audio.Store {
	case StoreMemory:
	case StoreNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("%w: required by audio store %q", ErrNATSURLEmpty, StoreNATS)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAudioStore, c.Audio.Store)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	return nil
}

// UsesNATS reports whether any component needs a NATS connection.
func (c *Config) UsesNATS() bool {
	return c.NATS.Enabled || c.Audio.Store == StoreNATS
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}

	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}

	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.RedisAddr = v
	}

	if v := os.Getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
	}
}

func (c *Config) applyDefaults() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")

	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.API.PreferredLocale == "" {
		c.API.PreferredLocale = defaultPreferredLocale
	}

	if len(c.API.EmbeddedAudioPaths) == 0 {
		c.API.EmbeddedAudioPaths = append([]string(nil), defaultEmbeddedAudioPaths...)
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}

	if c.Server.SessionTTLMinute <= 0 {
		c.Server.SessionTTLMinute = defaultSessionTTL
	}

	if c.Server.MaxImageBytes <= 0 {
		c.Server.MaxImageBytes = defaultMaxImageBytes
	}

	if c.Server.LongInputRunes <= 0 {
		c.Server.LongInputRunes = defaultLongInputRunes
	}

	if c.Audio.Store == "" {
		c.Audio.Store = StoreMemory
	}

	if c.Audio.URLPrefix == "" {
		c.Audio.URLPrefix = defaultAudioURLPrefix
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = defaultAudioBucket
	}

	if c.NATS.SynthesisSubject == "" {
		c.NATS.SynthesisSubject = defaultSynthesisSubject
	}

	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = defaultCacheTTL
	}

	if c.Cache.Prefix == "" {
		c.Cache.Prefix = defaultCachePrefix
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}
