package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Import   ImportConfig   `yaml:"import"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig holds S3 settings for uploaded import files.
type StorageConfig struct {
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	AWSProfile string `yaml:"aws_profile"`
}

// ImportConfig holds import pipeline tuning knobs.
type ImportConfig struct {
	// BatchSize fixes the micro-batch window; 0 sizes it adaptively.
	BatchSize int `yaml:"batch_size"`
	// Workers is the number of concurrent import jobs one worker process runs.
	Workers int `yaml:"workers"`
	// PollIntervalSeconds is how often idle workers poll for pending jobs.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// StaleAfterMinutes is the heartbeat age after which a processing job
	// counts as stalled.
	StaleAfterMinutes int `yaml:"stale_after_minutes"`
}

// StaleAfter returns the heartbeat age after which a processing job counts
// as stalled.
func (c ImportConfig) StaleAfter() time.Duration {
	if c.StaleAfterMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// PollInterval returns the worker poll interval.
func (c ImportConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// WebhookConfig holds outbound webhook delivery settings.
type WebhookConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the per-delivery HTTP timeout.
func (c WebhookConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads configuration from an optional YAML file, then applies .env
// and environment overrides. Missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Import:   ImportConfig{Workers: 2, PollIntervalSeconds: 2, StaleAfterMinutes: 5},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		cfg.Storage.AWSProfile = v
	}
	if v := os.Getenv("IMPORT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Import.BatchSize = n
		}
	}
	if v := os.Getenv("IMPORT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Import.Workers = n
		}
	}
}
