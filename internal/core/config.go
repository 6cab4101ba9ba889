package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of lightfarm.
type Config struct {
	// Tool is the worker executable every farm call is issued to.
	Tool     string `yaml:"tool"`
	BlobRoot string `yaml:"blob_root"`
	BlobID   string `yaml:"blob_id"`
	// Shards overrides the per-stage shard count; 0 uses every logical CPU.
	Shards    int    `yaml:"shards"`
	StorePath string `yaml:"store_path"`
	Telemetry struct {
		Enabled         bool `yaml:"enabled"`
		MetricsInterval int  `yaml:"metrics_interval"`
	} `yaml:"telemetry"`
	Ship ShipConfig `yaml:"ship"`
}

// ShipConfig points at the host shard logs are uploaded to.
type ShipConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path"`
	KnownHosts string `yaml:"known_hosts"`
	RemoteDir  string `yaml:"remote_dir"`
	Retries    int    `yaml:"retries"`
}

// MetricsInterval is the background flush period of the telemetry collector.
func (c Config) MetricsInterval() time.Duration {
	return time.Duration(c.Telemetry.MetricsInterval) * time.Second
}

// ConfigDir resolves $XDG_CONFIG_HOME/lightfarm or ~/.config/lightfarm.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "lightfarm")
}

// DefaultConfigPath is where LoadConfig looks when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultConfig matches the layout the worker tool expects out of the box.
func DefaultConfig() Config {
	dir := ConfigDir()
	var cfg Config
	cfg.Tool = "tool_fast"
	cfg.BlobRoot = "faux"
	cfg.BlobID = "111"
	cfg.StorePath = filepath.Join(dir, "runs.db")
	cfg.Telemetry.MetricsInterval = 30
	cfg.Ship.Port = 22
	cfg.Ship.KeyPath = filepath.Join(dir, "ssh", "id_ed25519")
	cfg.Ship.KnownHosts = filepath.Join(dir, "ssh", "known_hosts")
	cfg.Ship.RemoteDir = "lightfarm"
	cfg.Ship.Retries = 2
	return cfg
}

// LoadConfig reads YAML configuration from path on top of DefaultConfig. If path is empty
// the default location is used and a missing file is not an error. Values from farm.env
// and LIGHTFARM_* environment variables are applied last.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("open config: %w", err)
	}

	env, _ := LoadEnvFile(filepath.Join(filepath.Dir(path), "farm.env"))
	for _, key := range []string{EnvTool, EnvBlobRoot, EnvBlobID, EnvShards} {
		if v := os.Getenv(key); v != "" {
			env[key] = v
		}
	}
	if err := applyEnv(&cfg, env); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, env map[string]string) error {
	if v := env[EnvTool]; v != "" {
		cfg.Tool = v
	}
	if v := env[EnvBlobRoot]; v != "" {
		cfg.BlobRoot = v
	}
	if v := env[EnvBlobID]; v != "" {
		cfg.BlobID = v
	}
	if v := env[EnvShards]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: expected a non-negative integer, got %q", EnvShards, v)
		}
		cfg.Shards = n
	}
	return nil
}
