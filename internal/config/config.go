// Package config loads the JSON on-disk configuration. Runtime-tunable
// settings (base domain, maintenance mode, upload cap) live in the
// database instead; this file only covers what the process needs before
// the database is open.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	StorageDisk  = "disk"
	StorageMinio = "minio"
)

type MinioConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
}

type Config struct {
	Bind     string `json:"bind"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
	DataDir  string `json:"data_dir"`

	Storage string      `json:"storage"`
	Minio   MinioConfig `json:"minio"`

	SweepInterval string `json:"sweep_interval"`

	SessionTTLHours int `json:"session_ttl_hours"`
}

func DefaultPaths() (configPath, dataDir string, err error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve user config dir: %w", err)
	}
	var dataRoot string
	switch runtime.GOOS {
	case "windows":
		dataRoot = cfgRoot
	default:
		if p, derr := os.UserHomeDir(); derr == nil {
			dataRoot = filepath.Join(p, ".local", "share")
		} else {
			dataRoot = cfgRoot
		}
	}
	configPath = filepath.Join(cfgRoot, "jads", "config.json")
	dataDir = filepath.Join(dataRoot, "jads")
	return configPath, dataDir, nil
}

func Default(dataDir string) Config {
	return Config{
		Bind:            "0.0.0.0",
		Port:            8097,
		LogLevel:        "info",
		DataDir:         dataDir,
		Storage:         StorageDisk,
		SweepInterval:   "1m",
		SessionTTLHours: 24,
	}
}

func LoadOrDefault(configPath, dataDirOverride string) (Config, error) {
	_, defaultData, err := DefaultPaths()
	if err != nil {
		return Config{}, err
	}
	cfg := Default(defaultData)
	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
	}

	b, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(configPath string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(configPath, buf, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func Validate(cfg Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	switch cfg.Storage {
	case StorageDisk:
	case StorageMinio:
		if cfg.Minio.Endpoint == "" || cfg.Minio.Bucket == "" {
			return fmt.Errorf("minio storage selected but endpoint/bucket missing")
		}
	default:
		return fmt.Errorf("invalid storage backend %q", cfg.Storage)
	}
	if _, err := cfg.ParsedSweepInterval(); err != nil {
		return err
	}
	if cfg.SessionTTLHours <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return nil
}

func (c Config) ParsedSweepInterval() (time.Duration, error) {
	if strings.TrimSpace(c.SweepInterval) == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid sweep interval %q: %w", c.SweepInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("sweep interval must be positive")
	}
	return d, nil
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func ConfigPathFromEnv() (string, error) {
	if p := strings.TrimSpace(os.Getenv("JADS_CONFIG")); p != "" {
		return p, nil
	}
	cfgPath, _, err := DefaultPaths()
	return cfgPath, err
}
