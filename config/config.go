// Package config loads config.yaml for the server and params.yaml for the
// training pipeline, with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"bristolhouse/geo"
	"bristolhouse/remote"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Serving  ServingConfig  `yaml:"serving"`
	Database DatabaseConfig `yaml:"database"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	Timeout         time.Duration `yaml:"timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// TrustProxy keys the rate limiter on X-Forwarded-For; enable only
	// behind a proxy that sets it.
	TrustProxy   bool  `yaml:"trust_proxy"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	// File enables a rotating file sink next to stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ModelConfig struct {
	Path string `yaml:"path"`
	// Watch waits for a missing artifact to appear on disk.
	Watch  bool          `yaml:"watch"`
	Remote remote.Config `yaml:"remote"`
}

type ServingConfig struct {
	StrictValidation bool            `yaml:"strict_validation"`
	CacheSize        int             `yaml:"cache_size"`
	Bounds           geo.BoundingBox `yaml:"bounds"`
	YearMin          int             `yaml:"year_min"`
	YearMax          int             `yaml:"year_max"`
}

type DatabaseConfig struct {
	// Path of the training registry; empty disables it.
	Path string `yaml:"path"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:            8000,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimit:       20,
			RateBurst:       40,
			MaxBodyBytes:    1 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Model: ModelConfig{
			Path:  "models/gbm_model.json",
			Watch: true,
		},
		Serving: ServingConfig{
			CacheSize: 1024,
			Bounds:    geo.Bristol,
			YearMin:   2000,
			YearMax:   2025,
		},
		Database: DatabaseConfig{
			Path: "data/registry.db",
		},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		cfg.HTTP.Port = port
	}
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		cfg.HTTP.AllowedOrigins = splitCSV(v)
	}
	if v, ok := os.LookupEnv("TRUST_PROXY"); ok {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRUST_PROXY: %w", err)
		}
		cfg.HTTP.TrustProxy = trust
	}
	cfg.Model.Path = getEnv("MODEL_PATH", cfg.Model.Path)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)
	if v, ok := os.LookupEnv("STRICT_VALIDATION"); ok {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STRICT_VALIDATION: %w", err)
		}
		cfg.Serving.StrictValidation = strict
	}

	r := &cfg.Model.Remote
	r.Endpoint = getEnv("DVC_REMOTE_ENDPOINT", r.Endpoint)
	r.Bucket = getEnv("DVC_REMOTE_BUCKET", r.Bucket)
	r.Prefix = getEnv("DVC_REMOTE_PREFIX", r.Prefix)
	r.AccessKey = getEnv("DVC_REMOTE_ACCESS_KEY", r.AccessKey)
	r.SecretKey = getEnv("DVC_REMOTE_SECRET_KEY", r.SecretKey)
	r.Key = getEnv("DVC_REMOTE_KEY", r.Key)
	if v, ok := os.LookupEnv("DVC_REMOTE_USE_SSL"); ok {
		r.UseSSL = strings.EqualFold(v, "true")
	}
	return nil
}

func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if err := c.Serving.Bounds.Validate(); err != nil {
		return fmt.Errorf("serving.bounds: %w", err)
	}
	if c.Serving.YearMin > c.Serving.YearMax {
		return fmt.Errorf("serving.year_min %d above year_max %d", c.Serving.YearMin, c.Serving.YearMax)
	}
	if c.Serving.CacheSize < 0 {
		return errors.New("serving.cache_size must not be negative")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c HTTPConfig) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
