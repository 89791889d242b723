// Package config loads client configuration from an optional YAML file,
// an optional .env file and environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/stash/internal/kvstore"
)

// Config holds all client configuration.
type Config struct {
	// Backend
	Server      string        `yaml:"server"`
	Timeout     time.Duration `yaml:"timeout"`
	ReadRetries int           `yaml:"read_retries"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	// Session persistence ("file", "bolt" or "memory")
	Store     string `yaml:"store"`
	StorePath string `yaml:"store_path"`

	// Downloads
	CacheDir    string `yaml:"cache_dir"`
	MaxCache    int64  `yaml:"max_cache"`
	DownloadDir string `yaml:"download_dir"`

	// Uploads
	UploadMaxSize    int64         `yaml:"upload_max_size"`
	UploadCloseDelay time.Duration `yaml:"upload_close_delay"`

	// Metrics endpoint for the interactive shell; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server:           "http://localhost:3000",
		Timeout:          30 * time.Second,
		ReadRetries:      1,
		LogLevel:         "warn",
		LogFormat:        "console",
		Store:            kvstore.BackendFile,
		CacheDir:         defaultCacheDir(),
		MaxCache:         500 * 1024 * 1024, // 500MB
		DownloadDir:      ".",
		UploadMaxSize:    10 * 1024 * 1024, // 10MB
		UploadCloseDelay: time.Second,
	}
}

// DefaultFile is the YAML file read when STASH_CONFIG is unset.
func DefaultFile() string {
	return filepath.Join(kvstore.ConfigDir(), "config.yaml")
}

// Load reads the configuration. A missing YAML or .env file is not an
// error; a malformed one is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()

	path := os.Getenv("STASH_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultFile()
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	cfg.Server = envOr("STASH_SERVER", cfg.Server)
	cfg.Timeout = envDuration("STASH_TIMEOUT", cfg.Timeout)
	cfg.ReadRetries = envInt("STASH_READ_RETRIES", cfg.ReadRetries)
	cfg.LogLevel = envOr("STASH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("STASH_LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = envOr("STASH_LOG_FILE", cfg.LogFile)
	cfg.Store = envOr("STASH_STORE", cfg.Store)
	cfg.StorePath = envOr("STASH_STORE_PATH", cfg.StorePath)
	cfg.CacheDir = envOr("STASH_CACHE_DIR", cfg.CacheDir)
	cfg.MaxCache = envInt64("STASH_MAX_CACHE", cfg.MaxCache)
	cfg.DownloadDir = envOr("STASH_DOWNLOAD_DIR", cfg.DownloadDir)
	cfg.UploadMaxSize = envInt64("STASH_UPLOAD_MAX_SIZE", cfg.UploadMaxSize)
	cfg.UploadCloseDelay = envDuration("STASH_UPLOAD_CLOSE_DELAY", cfg.UploadCloseDelay)
	cfg.MetricsAddr = envOr("STASH_METRICS_ADDR", cfg.MetricsAddr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("STASH_SERVER must be an http(s) URL, got %q", c.Server)
	}
	switch c.Store {
	case kvstore.BackendFile, kvstore.BackendBolt, kvstore.BackendMemory:
	default:
		return fmt.Errorf("STASH_STORE must be file, bolt or memory, got %q", c.Store)
	}
	if c.ReadRetries < 1 {
		return fmt.Errorf("STASH_READ_RETRIES must be at least 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("STASH_TIMEOUT must be positive")
	}
	if c.UploadMaxSize <= 0 {
		return fmt.Errorf("STASH_UPLOAD_MAX_SIZE must be positive")
	}
	if c.MaxCache <= 0 {
		return fmt.Errorf("STASH_MAX_CACHE must be positive")
	}
	return nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "stash")
	}
	return filepath.Join(kvstore.ConfigDir(), "cache")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
